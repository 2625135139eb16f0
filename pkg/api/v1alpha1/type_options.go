package v1alpha1

// VariantSpec describes one desired rendition of an imported image.
// When only one dimension is given the resize is aspect-preserving.
type VariantSpec struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// PixelArea ranks variants for pass-1 selection (smallest first). A
// missing dimension counts as the present one, the aspect-fit upper
// bound.
func (v VariantSpec) PixelArea() int {
	w, h := v.Width, v.Height
	if w == 0 {
		w = h
	}
	if h == 0 {
		h = w
	}
	return w * h
}

// ImportOptions controls a single import batch run.
type ImportOptions struct {
	RecursionDepth     int           `json:"recursionDepth"`
	IgnoreDotfiles     bool          `json:"ignoreDotfiles"`
	SaveOriginal       bool          `json:"saveOriginal"`
	DesiredVariants    []VariantSpec `json:"desiredVariants"`
	NumJobs            int           `json:"numJobs"`
	ToProcessBatchSize int           `json:"toProcessBatchSize"`
	GenerateChecksums  bool          `json:"generateChecksums"`
}

// DefaultImportOptions returns the documented option defaults.
func DefaultImportOptions() ImportOptions {
	return ImportOptions{
		RecursionDepth:     0,
		IgnoreDotfiles:     true,
		SaveOriginal:       true,
		NumJobs:            1,
		ToProcessBatchSize: 10,
		GenerateChecksums:  false,
	}
}

// Complete fills zero values with defaults, leaving explicit settings
// untouched.
func (o ImportOptions) Complete() ImportOptions {
	if o.NumJobs <= 0 {
		o.NumJobs = 1
	}
	if o.ToProcessBatchSize <= 0 {
		o.ToProcessBatchSize = 10
	}
	return o
}

// GroupOp combines tag filter rules.
type GroupOp string

const (
	GroupAnd GroupOp = "AND"
	GroupOr  GroupOp = "OR"
)

// TagRule is a single tag predicate.
type TagRule struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Data  string `json:"data"`
}

// TagFilter selects images by tag membership.
type TagFilter struct {
	GroupOp GroupOp   `json:"groupOp"`
	Rules   []TagRule `json:"rules"`
}

// TagValues projects the rule values in rule order.
func (f TagFilter) TagValues() []string {
	vals := make([]string, 0, len(f.Rules))
	for _, r := range f.Rules {
		vals = append(vals, r.Data)
	}
	return vals
}

// TrashState selects images by trash membership.
type TrashState string

const (
	TrashIn  TrashState = "in"
	TrashOut TrashState = "out"
	TrashAny TrashState = "any"
)

// TagSelection narrows creation-time queries by tag presence.
type TagSelection string

const (
	TagsAny      TagSelection = ""
	TagsTagged   TagSelection = "tagged"
	TagsUntagged TagSelection = "untagged"
)

// QueryOptions tunes catalog reads.
type QueryOptions struct {
	ShowMetadata bool
	PageSize     int
	StartDate    string // YYYYMMDD, inclusive
	EndDate      string // YYYYMMDD, inclusive
	TagSelection TagSelection
	TrashState   TrashState
}
