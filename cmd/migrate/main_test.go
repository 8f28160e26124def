package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger-core/internal/app"
	_ "github.com/odyssey-erp/ledger-core/testing"
)

func TestMainSkipsInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	main()
}

func TestRunRejectsBadFlags(t *testing.T) {
	require.Equal(t, 2, run([]string{"-steps", "x"}))
}
