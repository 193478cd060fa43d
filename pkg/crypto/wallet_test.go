package crypto

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWallet_SignRecover(t *testing.T) {
	w, err := GenerateWallet()
	require.NoError(t, err)

	sig, err := w.SignMessage([]byte("bafyroot"))
	require.NoError(t, err)
	require.Len(t, sig, 65)

	addr, err := RecoverAddress([]byte("bafyroot"), sig)
	require.NoError(t, err)
	require.Equal(t, w.Address(), addr)
	require.NoError(t, VerifyWalletSignature(w.Address(), []byte("bafyroot"), sig))
}

func TestWallet_VerifyRejectsOtherAddress(t *testing.T) {
	w, err := GenerateWallet()
	require.NoError(t, err)
	other, err := GenerateWallet()
	require.NoError(t, err)

	sig, err := w.SignMessage([]byte("bafyroot"))
	require.NoError(t, err)

	err = VerifyWalletSignature(other.Address(), []byte("bafyroot"), sig)
	require.True(t, errors.Is(err, ErrWalletSignature))
}

func TestWalletFromHex(t *testing.T) {
	w, err := WalletFromHex("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	require.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", w.Address())
	require.Equal(t, "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318", w.Hex())

	_, err = WalletFromHex("zz")
	require.ErrorIs(t, err, ErrInvalidKey)
}
