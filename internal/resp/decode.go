package resp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Decode reads one RESP request off r and returns it as a Command: a multibulk array of bulk
// strings (the shape every real client sends) or, failing that, a space-separated inline command
// the way Redis itself falls back to for telnet-style clients. Pass the same *bufio.Reader back
// in on every call when decoding a pipelined stream — wrapping a raw io.Reader fresh each call is
// only correct when r is already positioned at exactly one command's bytes (pkg/redlite's
// embedded wire entry point, tests against a bytes.Reader).
func Decode(r io.Reader) (Command, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return decodeFrom(br)
}

func decodeFrom(br *bufio.Reader) (Command, error) {
	b, err := br.Peek(1)
	if err != nil {
		return Command{}, err
	}
	if b[0] != '*' {
		return decodeInline(br)
	}

	line, err := readLine(br)
	if err != nil {
		return Command{}, err
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil {
		return Command{}, fmt.Errorf("resp: invalid multibulk length %q: %w", line, err)
	}
	if n <= 0 {
		return Command{}, nil
	}

	args := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		line, err := readLine(br)
		if err != nil {
			return Command{}, err
		}
		if len(line) == 0 || line[0] != '$' {
			return Command{}, fmt.Errorf("resp: expected bulk string header, got %q", line)
		}
		size, err := strconv.Atoi(line[1:])
		if err != nil {
			return Command{}, fmt.Errorf("resp: invalid bulk length %q: %w", line, err)
		}
		if size < 0 {
			args = append(args, nil)
			continue
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(br, buf); err != nil {
			return Command{}, err
		}
		args = append(args, buf[:size])
	}

	if len(args) == 0 || args[0] == nil {
		return Command{}, fmt.Errorf("resp: empty command verb")
	}
	return Command{Name: strings.ToUpper(string(args[0])), Args: args[1:]}, nil
}

// decodeInline parses Redis's inline command protocol: one line of whitespace-separated fields,
// no length prefixes. Real Redis accepts this on the same port as RESP for interactive clients.
func decodeInline(br *bufio.Reader) (Command, error) {
	line, err := readLine(br)
	if err != nil {
		return Command{}, err
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, nil
	}
	args := make([][]byte, len(fields)-1)
	for i, f := range fields[1:] {
		args[i] = []byte(f)
	}
	return Command{Name: strings.ToUpper(fields[0]), Args: args}, nil
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Encode serializes r onto w as a RESP2/RESP3 frame, the io.Writer-based counterpart to
// WriteReply for callers that aren't holding a redcon.Conn: pkg/redlite's wire entry point and
// tests that build a Reply and want its exact bytes on the wire.
func Encode(w io.Writer, r Reply) error {
	var buf bytes.Buffer
	encodeTo(&buf, r)
	_, err := w.Write(buf.Bytes())
	return err
}

func encodeTo(buf *bytes.Buffer, r Reply) {
	switch r.Kind {
	case KindSimpleString:
		buf.WriteByte('+')
		buf.WriteString(r.Str)
		buf.WriteString("\r\n")
	case KindError:
		buf.WriteByte('-')
		buf.WriteString(r.Str)
		buf.WriteString("\r\n")
	case KindInteger:
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatInt(r.Int, 10))
		buf.WriteString("\r\n")
	case KindBulk:
		if r.Bulk == nil {
			buf.WriteString("$-1\r\n")
			return
		}
		buf.WriteByte('$')
		buf.WriteString(strconv.Itoa(len(r.Bulk)))
		buf.WriteString("\r\n")
		buf.Write(r.Bulk)
		buf.WriteString("\r\n")
	case KindArray:
		if r.Items == nil {
			buf.WriteString("*-1\r\n")
			return
		}
		buf.WriteByte('*')
		buf.WriteString(strconv.Itoa(len(r.Items)))
		buf.WriteString("\r\n")
		for _, item := range r.Items {
			encodeTo(buf, item)
		}
	case KindDouble:
		buf.Write(encodeDouble(r.Double))
	case KindMap:
		buf.Write(encodeAggregateHeader('%', len(r.Items)/2))
		for _, item := range r.Items {
			encodeTo(buf, item)
		}
	case KindSet:
		buf.Write(encodeAggregateHeader('~', len(r.Items)))
		for _, item := range r.Items {
			encodeTo(buf, item)
		}
	case KindPush:
		buf.Write(encodeAggregateHeader('>', len(r.Items)))
		for _, item := range r.Items {
			encodeTo(buf, item)
		}
	default:
		buf.WriteString(fmt.Sprintf("-ERR internal: unknown reply kind %d\r\n", r.Kind))
	}
}
