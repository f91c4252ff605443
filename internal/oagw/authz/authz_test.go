package authz_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outbound-gateway/oagw/internal/oagw/authz"
	"github.com/outbound-gateway/oagw/pkg/oagwerrors"
)

func TestPrincipal_Allows(t *testing.T) {
	p := authz.Principal{
		ID:     "u1",
		Tenant: "acme",
		Permissions: map[authz.Permission]bool{
			authz.PermissionProxy: true,
		},
	}

	assert.True(t, p.Allows(authz.PermissionProxy))
	assert.False(t, p.Allows(authz.PermissionManage))
}

func TestPrincipal_Allows_ZeroValueDeniesEverything(t *testing.T) {
	var p authz.Principal
	assert.False(t, p.Allows(authz.PermissionProxy))
	assert.False(t, p.Allows(authz.PermissionManage))
}

func TestStaticService_Authenticate_KnownToken(t *testing.T) {
	want := authz.Principal{
		ID:     "u1",
		Tenant: "acme",
		Permissions: map[authz.Permission]bool{
			authz.PermissionManage: true,
		},
	}
	svc := authz.NewStaticService(map[string]authz.Principal{
		"tok-1": want,
	})

	got, err := svc.Authenticate(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStaticService_Authenticate_UnknownToken(t *testing.T) {
	svc := authz.NewStaticService(map[string]authz.Principal{})

	_, err := svc.Authenticate(context.Background(), "does-not-exist")
	require.Error(t, err)

	gwErr, ok := oagwerrors.As(err, oagwerrors.KindAuthenticationFailed)
	require.True(t, ok)
	assert.Equal(t, oagwerrors.KindAuthenticationFailed, gwErr.Kind)
}
