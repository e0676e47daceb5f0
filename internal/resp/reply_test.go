package resp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/redcon"

	"github.com/redlite/redlite/internal/resp"
)

func TestFromRedconUppercasesVerb(t *testing.T) {
	cmd := resp.FromRedcon(redcon.Command{Args: [][]byte{[]byte("get"), []byte("k")}})
	assert.Equal(t, "GET", cmd.Name)
	assert.Equal(t, [][]byte{[]byte("k")}, cmd.Args)
}

func TestFromRedconEmptyCommand(t *testing.T) {
	cmd := resp.FromRedcon(redcon.Command{})
	assert.Equal(t, "", cmd.Name)
	assert.Nil(t, cmd.Args)
}

func TestBoolReplyEncodesAsInteger(t *testing.T) {
	assert.Equal(t, resp.Int(1), resp.Bool(true))
	assert.Equal(t, resp.Int(0), resp.Bool(false))
}

func TestNullBulkHasNilPayload(t *testing.T) {
	r := resp.NullBulk()
	assert.Equal(t, resp.KindBulk, r.Kind)
	assert.Nil(t, r.Bulk)
}

func TestNullArrayHasNilItems(t *testing.T) {
	r := resp.NullArray()
	assert.Equal(t, resp.KindArray, r.Kind)
	assert.Nil(t, r.Items)
}
