package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeErrorIs(t *testing.T) {
	err := ErrNotConnected.WrapMsg("send", "chatId", "c1")
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrNotConnected))
	assert.False(t, errors.Is(err, ErrEmptyContent))
	assert.Equal(t, NotConnected, Code(err))
	assert.Contains(t, err.Error(), "chatId=c1")
}

func TestCodeRelation(t *testing.T) {
	err := fmt.Errorf("read: %w", ErrAbnormalClosure.WithDetail("code=1006"))

	assert.True(t, errors.Is(err, ErrConnectFailed))
	assert.True(t, errors.Is(ErrMaxReconnectAttempts.Wrap(), ErrConnectFailed))
	assert.False(t, errors.Is(ErrConnectFailed.Wrap(), ErrAbnormalClosure))
}

func TestWithDetailDoesNotMutateSentinel(t *testing.T) {
	d := ErrServer.WithDetail("boom")
	assert.Equal(t, "boom", d.Detail)
	assert.Empty(t, ErrServer.Detail)
	assert.Equal(t, "1010 server error boom", d.Error())
}

func TestRelationNeedsTwoCodes(t *testing.T) {
	assert.Error(t, newCodeRelation().Add(1))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil))
	assert.Nil(t, WrapMsg(nil, "x"))
	assert.Nil(t, ErrPanic(nil))
	assert.Equal(t, ServerInternalError, Code(ErrPanic("oops")))
}
