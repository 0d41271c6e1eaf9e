package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressEmpty(t *testing.T) {
	var a Address
	require.True(t, a.Empty())

	a = "some-address"
	require.False(t, a.Empty())
}

func TestAddressValidateRejectsEmpty(t *testing.T) {
	var a Address
	require.Error(t, a.validate())

	a = "some-address"
	require.NoError(t, a.validate())
}

func TestAddressString(t *testing.T) {
	a := Address("abc123")
	require.Equal(t, "abc123", a.String())
}
