package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.ClaimDocumentActivity)
	w.RegisterActivity(a.RunIngestionActivity)
	w.RegisterActivity(a.FailDocumentActivity)
	w.RegisterActivity(a.ListFailedDocumentsActivity)
	w.RegisterActivity(a.SweepCleanupActivity)
}
