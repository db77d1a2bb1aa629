package remote

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"codadeploy/pkg/cmdutil"
)

func TestDryRun_PrintsRedactedCommands(t *testing.T) {
	var out bytes.Buffer
	dry := NewDryRun(&out)
	ctx := context.Background()

	cmd := cmdutil.New("mysqladmin", "-u", "root", "password", "Adm1n-Pa55").Secret("Adm1n-Pa55")
	if _, err := dry.Run(ctx, "h1:2201", cmd, RunOptions{Sudo: true}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if err := dry.Put(ctx, "h1:2201", []byte("secret content"), ".codalab/website-config.json", PutOptions{}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	printed := out.String()
	if strings.Contains(printed, "Adm1n-Pa55") || strings.Contains(printed, "secret content") {
		t.Errorf("dry run leaked a secret:\n%s", printed)
	}
	if !strings.Contains(printed, "[h1:2201] sudo: mysqladmin -u root password ***REDACTED***") {
		t.Errorf("unexpected output:\n%s", printed)
	}
	if !strings.Contains(printed, "[h1:2201] put: .codalab/website-config.json (14 bytes") {
		t.Errorf("unexpected output:\n%s", printed)
	}

	if got := dry.Commands(); len(got) != 1 {
		t.Errorf("Commands() = %v, want one command", got)
	}
	calls := dry.Invocations()
	if len(calls) != 2 || string(calls[1].Content) != "secret content" {
		t.Errorf("Invocations() = %+v", calls)
	}
}

func TestDryRun_InvocationsIsCopy(t *testing.T) {
	dry := NewDryRun(nil)
	_, _ = dry.Run(context.Background(), "h", cmdutil.New("true"), RunOptions{})

	calls := dry.Invocations()
	calls[0].Host = "changed"
	if dry.Invocations()[0].Host != "h" {
		t.Error("Invocations() exposed internal state")
	}
}
