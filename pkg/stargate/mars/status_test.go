package mars

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-stargate/pkg/stargate"
	"github.com/ZentaChain/zentalk-stargate/pkg/stn"
)

func TestMergeStatus(t *testing.T) {
	var (
		errS  = stargate.StatusError
		initS = stargate.StatusInit
		conn  = stargate.StatusConnecting
		up    = stargate.StatusConnected
	)

	// rows: long link, columns: short link in the order error, init, connecting, connected
	tests := []struct {
		long stargate.Status
		want [4]stargate.Status
	}{
		{errS, [4]stargate.Status{errS, initS, conn, up}},
		{initS, [4]stargate.Status{errS, initS, conn, up}},
		{conn, [4]stargate.Status{conn, conn, conn, conn}},
		{up, [4]stargate.Status{up, up, up, up}},
	}
	shorts := [4]stargate.Status{errS, initS, conn, up}

	for _, tt := range tests {
		for i, short := range shorts {
			t.Run(tt.long.String()+"/"+short.String(), func(t *testing.T) {
				assert.Equal(t, tt.want[i], MergeStatus(tt.long, short))
			})
		}
	}
}

func TestMapLinkStatus(t *testing.T) {
	tests := []struct {
		in   stn.LinkStatus
		want stargate.Status
	}{
		{stn.LinkUnknown, stargate.StatusError},
		{stn.LinkUnavailable, stargate.StatusError},
		{stn.LinkGatewayFailed, stargate.StatusError},
		{stn.LinkServerFailed, stargate.StatusError},
		{stn.LinkConnecting, stargate.StatusConnecting},
		{stn.LinkConnected, stargate.StatusConnected},
		{stn.LinkServerDown, stargate.StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, MapLinkStatus(tt.in))
		})
	}
}

func TestTranslateError(t *testing.T) {
	tests := []struct {
		errType stn.ErrType
		want    error
	}{
		{stn.ErrTypeFalse, ErrOSStatus},
		{stn.ErrTypeDial, ErrOSStatus},
		{stn.ErrTypeDNS, ErrURL},
		{stn.ErrTypeSocket, ErrStreamSOCKS},
		{stn.ErrTypeHTTP, ErrURL},
		{stn.ErrTypeNetMsgXP, ErrItemProvider},
		{stn.ErrTypeEnDecode, ErrPOSIX},
		{stn.ErrTypeServer, ErrNetServices},
		{stn.ErrTypeLocal, ErrGeneric},
		{stn.ErrType(42), ErrGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.errType.String(), func(t *testing.T) {
			err := TranslateError(tt.errType, 7)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var taskErr *TaskError
			require.True(t, errors.As(err, &taskErr))
			assert.Equal(t, tt.errType, taskErr.Type)
			assert.Equal(t, 7, taskErr.Code)
		})
	}

	assert.NoError(t, TranslateError(stn.ErrTypeOK, 0))
}
