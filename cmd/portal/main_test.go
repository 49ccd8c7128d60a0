package main

import (
	"testing"

	"github.com/gadgetcloud/portal/internal/app"
	_ "github.com/gadgetcloud/portal/testing"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	if !app.InTestMode() {
		t.Fatalf("expected %s to be set by the testing package", app.TestModeEnv)
	}
	main()
}
