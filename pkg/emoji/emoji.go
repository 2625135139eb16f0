package emoji

const (
	WavingHandSign         string = "\U0001F44B"
	Gear                   string = "⚙️"
	TwistedRighwardsArrows string = "\U0001F500"
	Package                string = "\U0001F4E6"
	CameraWithFlash        string = "\U0001F4F8"
	FramedPicture          string = "\U0001F5BC"
	Wastebasket            string = "\U0001F5D1"
	CheckMarkButton        string = "✅"
	CrossMark              string = "❌"
	Eyes                   string = "\U0001F440"
	PageFacingUp           string = "\U0001F4C4"
	SpinnerDashes          string = "〰️"
)
