package runner

// Phase is a step of the daily pass. Phases run strictly in order.
type Phase int

const (
	Init Phase = iota
	GenerateReports
	ListAndFilterReports
	DownloadAndCleanup
	ExtractAndEmail
	Done
)

var phaseNames = [...]string{
	Init:                 "init",
	GenerateReports:      "generate",
	ListAndFilterReports: "list",
	DownloadAndCleanup:   "download",
	ExtractAndEmail:      "email",
	Done:                 "done",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}
