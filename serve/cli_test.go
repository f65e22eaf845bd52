package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCLIInvokeReadsPromptFromStdin(t *testing.T) {
	stubProject(t, map[string]string{
		"inference.py": `sed 's/"prompt"/"response"/'`,
	})

	out, err := runCLI(t, "echo-test", "invoke", "--kind", "generate", "--prompt", "-")
	if err != nil {
		t.Fatalf("invoke failed: %v\n%s", err, out)
	}
	var res resultOutput
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if res.Result != "ok" || res.Response != "echo-test" {
		t.Errorf("result = %+v", res)
	}
}

func TestCLIInvokeFailureExitsNonZero(t *testing.T) {
	stubProject(t, nil)

	out, err := runCLI(t, "", "invoke", "--kind", "inline", "--prompt", "x")
	if err == nil || err.Error() != "script_not_found" {
		t.Errorf("expected script_not_found error, got %v", err)
	}
	if !strings.Contains(out, `"tried"`) {
		t.Errorf("expected tried locations in output, got %s", out)
	}
}

func TestCLILocate(t *testing.T) {
	stubProject(t, map[string]string{"deploy.py": "exit 0"})

	out, err := runCLI(t, "", "locate", "deploy")
	if err != nil {
		t.Fatalf("locate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "/bin/sh ") || !strings.Contains(out, "deploy.py") {
		t.Errorf("unexpected locate output:\n%s", out)
	}

	if _, err := runCLI(t, "", "locate", "dropdown"); err == nil {
		t.Error("expected error for a missing dropdown script")
	}
}
