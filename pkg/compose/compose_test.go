package compose_test

import (
	"testing"
	"time"

	"github.com/anf-aiops/opsbot/pkg/authz"
	"github.com/anf-aiops/opsbot/pkg/compose"
	"github.com/anf-aiops/opsbot/pkg/dispatch"
	"github.com/anf-aiops/opsbot/pkg/intent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompose_Success(t *testing.T) {
	c := compose.New(compose.WithRenderHint("create_snapshot", "snapshot_card"))

	tests := []struct {
		op   string
		hint string
	}{
		{"list_volumes", compose.HintTable},
		{"create_pool", compose.HintResource},
		{"resize_volume", compose.HintResource},
		{"delete_volume", compose.HintStatus},
		{"help", compose.HintHelp},
		{"create_snapshot", "snapshot_card"},
		{"rotate_keys", compose.HintResult},
	}
	for _, tt := range tests {
		out := c.Compose(dispatch.Result{
			Status:        dispatch.StatusSuccess,
			OperationName: tt.op,
			CorrelationID: "corr-1",
			Payload:       []string{"x"},
		})
		assert.Equal(t, tt.hint, out.RenderHint, tt.op)
		assert.Empty(t, out.Text)
		assert.Equal(t, []string{"x"}, out.Data["result"])
		assert.Equal(t, tt.op, out.Data["operation"])
	}
}

func TestCompose_DeniedNeverLeaks(t *testing.T) {
	c := compose.New()
	for _, reason := range []authz.Reason{authz.ReasonNoMatchingPermission, authz.ReasonUnknownAction} {
		out := c.Compose(dispatch.Result{
			Status:        dispatch.StatusDenied,
			Reason:        reason,
			OperationName: "delete_volume",
			CorrelationID: "corr-2",
		})
		assert.Equal(t, compose.DeniedText, out.Text)
		assert.NotContains(t, out.Text, "anf.")
		assert.NotContains(t, out.Text, "ANF.")
		assert.Nil(t, out.Data)
	}
}

func TestCompose_PendingConfirmationRoundTrips(t *testing.T) {
	c := compose.New()
	expires := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)
	out := c.Compose(dispatch.Result{
		Status:        dispatch.StatusPendingConfirmation,
		OperationName: "delete_volume",
		CorrelationID: "corr-3",
		TicketID:      "tk-1",
		ExpiresAt:     expires,
		Parameters:    map[string]string{"pool": "p1", "name": "vol1"},
		Intent:        intent.Intent{Action: "delete", Entity: "volume"},
	})

	require.Equal(t, compose.HintConfirmation, out.RenderHint)
	assert.Equal(t, "tk-1", out.Data["confirmationTicketId"])
	assert.Equal(t, "2026-03-01T09:05:00Z", out.Data["expiresAt"])
	assert.Equal(t, "/anf delete volume name vol1 pool p1 confirmationTicketId tk-1", out.Data["confirmCommand"])
	assert.Equal(t, map[string]any{"name": "vol1", "pool": "p1", "confirmationTicketId": "tk-1"}, out.Data["parameters"])
	assert.Equal(t, "Are you sure you want to delete volume (name=vol1, pool=p1)? This cannot be undone.", out.Data["prompt"])
}

func TestCompose_ErrorTexts(t *testing.T) {
	c := compose.New(compose.WithNamespace("/netapp"))

	tests := []struct {
		kind    dispatch.Kind
		details map[string]string
		want    string
	}{
		{dispatch.KindUnrecognizedInput, nil, `Sorry, I didn't understand that. Try "/netapp help" to see what I can do. (reference: corr-4)`},
		{dispatch.KindUnknownOperation, nil, `That operation isn't supported. Try "/netapp help" to see what I can do. (reference: corr-4)`},
		{dispatch.KindInvalidParameters, map[string]string{"size_tb": "must be an integer", "name": "is required"},
			"Some parameters are missing or invalid: name is required; size_tb must be an integer. (reference: corr-4)"},
		{dispatch.KindConfirmationInvalid, nil, "This confirmation has expired or was already used. Please run the command again. (reference: corr-4)"},
		{dispatch.KindConfirmationMismatch, map[string]string{"mismatch": "user"}, "This confirmation does not match the requested operation. Please run the command again. (reference: corr-4)"},
		{dispatch.KindBackendFailure, map[string]string{"errorCode": "500"}, "The operation could not be completed. Please try again later. (reference: corr-4)"},
		{dispatch.Kind("SomethingNew"), nil, "Something went wrong while handling your request. (reference: corr-4)"},
	}
	for _, tt := range tests {
		out := c.Compose(dispatch.Result{
			Status:        dispatch.StatusError,
			Kind:          tt.kind,
			Details:       tt.details,
			Message:       "internal detail",
			CorrelationID: "corr-4",
		})
		assert.Equal(t, tt.want, out.Text, string(tt.kind))
		assert.Empty(t, out.RenderHint)
	}
}
