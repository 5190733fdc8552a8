package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veilpay-labs/veilpay-harness/pkg/common"
)

func NewRandomAccount(t *testing.T) *common.Account {
	account, err := common.NewRandomAccount()
	require.NoError(t, err)

	return account
}
