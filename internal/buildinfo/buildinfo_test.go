package buildinfo

import (
	"encoding/json"
	"testing"
)

func TestSummary(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = origVersion, origCommit, origDate })

	tests := []struct {
		name                  string
		version, commit, date string
		want                  string
	}{
		{name: "empty version", want: "dev"},
		{name: "version only", version: "1.2.0", want: "1.2.0"},
		{name: "commit", version: "1.2.0", commit: "abc123", want: "1.2.0 (abc123)"},
		{name: "commit and date", version: "1.2.0", commit: "abc123", date: "2024-01-02", want: "1.2.0 (abc123 2024-01-02)"},
		{name: "date only", version: "1.2.0", date: "2024-01-02", want: "1.2.0 (2024-01-02)"},
	}
	for _, tc := range tests {
		Version, Commit, Date = tc.version, tc.commit, tc.date
		if got := Summary(); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestStatusJSON(t *testing.T) {
	origVersion, origCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = origVersion, origCommit })
	Version, Commit = "0.3.1", "deadbeef"

	var st Status
	if err := json.Unmarshal(StatusJSON(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Status != "ok" || st.Version != "0.3.1" || st.Revision != "deadbeef" {
		t.Fatalf("unexpected status payload: %+v", st)
	}
}
