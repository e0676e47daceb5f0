package resp_test

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redlite/redlite/internal/resp"
)

func TestDecodeParsesMultibulkCommand(t *testing.T) {
	r := strings.NewReader("*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n")
	cmd, err := resp.Decode(r)
	require.NoError(t, err)
	assert.Equal(t, "SET", cmd.Name)
	assert.Equal(t, [][]byte{[]byte("k"), []byte("v")}, cmd.Args)
}

func TestDecodeUppercasesVerb(t *testing.T) {
	r := strings.NewReader("*1\r\n$4\r\nping\r\n")
	cmd, err := resp.Decode(r)
	require.NoError(t, err)
	assert.Equal(t, "PING", cmd.Name)
	assert.Empty(t, cmd.Args)
}

func TestDecodeFallsBackToInlineCommand(t *testing.T) {
	r := strings.NewReader("get somekey\r\n")
	cmd, err := resp.Decode(r)
	require.NoError(t, err)
	assert.Equal(t, "GET", cmd.Name)
	assert.Equal(t, [][]byte{[]byte("somekey")}, cmd.Args)
}

func TestDecodeReusesBufioReaderAcrossPipelinedCommands(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("*1\r\n$4\r\nPING\r\n*1\r\n$4\r\nPING\r\n"))

	first, err := resp.Decode(br)
	require.NoError(t, err)
	assert.Equal(t, "PING", first.Name)

	second, err := resp.Decode(br)
	require.NoError(t, err)
	assert.Equal(t, "PING", second.Name)
}

func TestEncodeWritesBulkString(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, resp.Encode(&buf, resp.BulkBytes([]byte("hello"))))
	assert.Equal(t, "$5\r\nhello\r\n", buf.String())
}

func TestEncodeWritesNullArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, resp.Encode(&buf, resp.NullArray()))
	assert.Equal(t, "*-1\r\n", buf.String())
}

func TestEncodeDecodeRoundTripsArrayReply(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, resp.Encode(&buf, resp.Array(resp.Int(1), resp.BulkString("x"))))
	assert.Equal(t, "*2\r\n:1\r\n$1\r\nx\r\n", buf.String())
}
