package document

import "testing"

func TestReadyForUploadAcceptsPendingAndUploading(t *testing.T) {
	for _, s := range []Status{StatusPendingUpload, StatusUploading} {
		if !readyForUpload(s) {
			t.Errorf("readyForUpload(%q) = false, want true", s)
		}
	}
	if readyForUpload(StatusUploaded) {
		t.Errorf("readyForUpload(%q) = true, want false", StatusUploaded)
	}
}

func TestReadyForReindexAcceptsTerminalAndFailedOnly(t *testing.T) {
	for _, s := range []Status{StatusReady, StatusIndexed, StatusFailed} {
		if !readyForReindex(s) {
			t.Errorf("readyForReindex(%q) = false, want true", s)
		}
	}
	for _, s := range []Status{StatusPendingUpload, StatusUploaded, StatusExtracting, StatusIndexing} {
		if readyForReindex(s) {
			t.Errorf("readyForReindex(%q) = true, want false", s)
		}
	}
}

func TestTerminalReadyAcceptsBothAliases(t *testing.T) {
	if !terminalReady(StatusIndexed) || !terminalReady(StatusReady) {
		t.Error("terminalReady should accept both indexed and its legacy alias ready")
	}
	if terminalReady(StatusFailed) {
		t.Error("terminalReady(failed) should be false")
	}
}
