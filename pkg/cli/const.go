package cli

const (
	cliPrefix string = "[CLI] "

	importCommand     string = "import"
	abortCommand      string = "abort"
	lsCommand         string = "ls"
	showCommand       string = "show"
	batchesCommand    string = "batches"
	tagsCommand       string = "tags"
	trashCommand      string = "trash"
	restoreCommand    string = "restore"
	emptyTrashCommand string = "empty-trash"

	tagsAddAction     string = "add"
	tagsRemoveAction  string = "remove"
	tagsReplaceAction string = "replace"
	tagsListAction    string = "list"
	tagsFindAction    string = "find"

	dayFormat string = "20060102"
)
