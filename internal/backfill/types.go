package backfill

// Totals summarises one replay run.
type Totals struct {
	Files      int `json:"files"`
	Calls      int `json:"calls"`
	Fields     int `json:"fields"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	Errors     int `json:"errors"`
}

// FileSummary is the per-file tally used for batch summaries.
type FileSummary struct {
	Path       string
	Date       string // date of the first call in the file, YYYY-MM-DD
	Calls      int
	Fields     int
	Duplicates int
	Errors     int
}
