package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWorkspaceState_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.state")
	want := WorkspaceState{WorkspaceID: "ws1", PeerID: "12D3KooWExample", Port: 7846, IP: "203.0.113.10"}
	if err := WriteWorkspaceState(path, want); err != nil {
		t.Fatalf("WriteWorkspaceState: %v", err)
	}
	got, err := LoadWorkspaceState(path)
	if err != nil {
		t.Fatalf("LoadWorkspaceState: %v", err)
	}
	if *got != want {
		t.Errorf("got %+v, want %+v", *got, want)
	}
}

func TestLoadWorkspaceState_IgnoresCommentsAndBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.state")
	body := "# comment\n\nWORKSPACE_ID=ws1\nWORKSPACE_PEER=peer1\nWORKSPACE_PORT=7846\nWORKSPACE_IP=10.0.0.1\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
	st, err := LoadWorkspaceState(path)
	if err != nil {
		t.Fatalf("LoadWorkspaceState: %v", err)
	}
	if st.WorkspaceID != "ws1" || st.Port != 7846 {
		t.Errorf("unexpected state: %+v", st)
	}
}

func TestLoadWorkspaceState_Incomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.state")
	if err := os.WriteFile(path, []byte("WORKSPACE_ID=ws1\n"), 0644); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
	_, err := LoadWorkspaceState(path)
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("got %v, want ErrConfigInvalid", err)
	}
}

func TestLoadWorkspaceState_MissingFile(t *testing.T) {
	_, err := LoadWorkspaceState(filepath.Join(t.TempDir(), "nope.state"))
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("got %v, want ErrConfigInvalid", err)
	}
}
