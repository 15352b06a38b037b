package stt

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestExecTranscriber(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture")
	}
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	script := filepath.Join(dir, "fake-stt")
	body := "#!/bin/sh\necho \"$@\" > " + argsFile + "\necho '{\"text\":\"hola\",\"confidence\":0.75}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	tr, err := NewExecTranscriber(ExecConfig{Command: script + " --json", Language: "en-US", Interim: true})
	if err != nil {
		t.Fatalf("new transcriber: %v", err)
	}
	res, err := tr.Transcribe(context.Background(), []byte{0, 1, 2, 3}, 16000, 1, false)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "hola" || res.Confidence != 0.75 {
		t.Fatalf("unexpected result %+v", res)
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	got := string(args)
	for _, want := range []string{"--json", "--audio", "--language en-US", "--partial"} {
		if !strings.Contains(got, want) {
			t.Fatalf("args %q missing %q", got, want)
		}
	}
}

func TestExecTranscriberRejectsOddPCM(t *testing.T) {
	tr, err := NewExecTranscriber(ExecConfig{Command: "true"})
	if err != nil {
		t.Fatalf("new transcriber: %v", err)
	}
	if _, err := tr.Transcribe(context.Background(), []byte{1}, 16000, 1, true); err == nil {
		t.Fatal("expected alignment error")
	}
}

func TestNewExecTranscriberEmptyCommand(t *testing.T) {
	if _, err := NewExecTranscriber(ExecConfig{Command: "   "}); err == nil {
		t.Fatal("expected error for empty command")
	}
}
