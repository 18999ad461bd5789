package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/linkaudit/internal/models"
)

// ftpSession is one anonymous control connection
type ftpSession struct {
	conn     net.Conn
	text     *textproto.Conn
	dialer   *net.Dialer
	maxBytes int64
}

// fetchFTP logs in anonymously and retrieves the file at u. When RETR is not
// accepted the path is treated as a directory and its LIST output is returned.
func (f *Fetcher) fetchFTP(ctx context.Context, u *url.URL) ([]byte, error) {
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "21")
	}

	dialer := &net.Dialer{Timeout: f.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	s := &ftpSession{
		conn:     conn,
		text:     textproto.NewConn(conn),
		dialer:   dialer,
		maxBytes: f.config.MaxContentBytes,
	}
	defer s.quit()

	if err := s.login(f.config.ContactEmail); err != nil {
		return nil, err
	}

	if code, msg, err := s.cmd("TYPE I"); err != nil {
		return nil, err
	} else if code != 200 {
		return nil, newFetchError(models.KindFTPMisc, "TYPE I rejected", replyAux(code, msg))
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	body, err := s.transfer(ctx, "RETR "+path)
	if err == nil {
		return body, nil
	}
	if fe, ok := err.(*fetchError); !ok || fe.kind != models.KindFTPMisc {
		return nil, err
	}

	// Not a retrievable file, try it as a directory
	if code, msg, err := s.cmd("CWD %s", path); err != nil {
		return nil, err
	} else if code/100 != 2 {
		return nil, newFetchError(models.KindFTPMisc, "file not retrievable and not a directory", replyAux(code, msg))
	}
	return s.transfer(ctx, "LIST")
}

func (s *ftpSession) login(password string) error {
	code, msg, err := s.text.ReadResponse(0)
	if err != nil {
		return err
	}
	switch {
	case code == 421:
		return newFetchError(models.KindNoService, "service not available", replyAux(code, msg))
	case code != 220:
		return newFetchError(models.KindFTPMisc, "unexpected greeting", replyAux(code, msg))
	}

	code, msg, err = s.cmd("USER anonymous")
	if err != nil {
		return err
	}
	if code == 230 {
		return nil
	}
	if code != 331 {
		return newFetchError(models.KindFTPLogin, "USER rejected", replyAux(code, msg))
	}

	code, msg, err = s.cmd("PASS %s", password)
	if err != nil {
		return err
	}
	if code != 230 && code != 202 {
		return newFetchError(models.KindFTPLogin, "anonymous login failed", replyAux(code, msg))
	}
	return nil
}

// transfer opens a passive data channel and runs command over it. A non-1xx
// reply to command is returned as FTP_MISC.
func (s *ftpSession) transfer(ctx context.Context, command string) ([]byte, error) {
	code, msg, err := s.cmd("PASV")
	if err != nil {
		return nil, err
	}
	if code != 227 {
		return nil, newFetchError(models.KindFTPMisc, "PASV rejected", replyAux(code, msg))
	}
	addr, err := parsePASV(msg)
	if err != nil {
		return nil, err
	}

	data, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer data.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = data.SetDeadline(deadline)
	}

	code, msg, err = s.cmd("%s", command)
	if err != nil {
		return nil, err
	}
	if code/100 != 1 {
		return nil, newFetchError(models.KindFTPMisc, strings.Fields(command)[0]+" rejected", replyAux(code, msg))
	}

	body, err := io.ReadAll(io.LimitReader(data, s.maxBytes))
	if err != nil && len(body) == 0 {
		return nil, err
	}
	data.Close()

	// 226 when complete; an aborted transfer after hitting the cap is fine
	_, _, _ = s.text.ReadResponse(0)
	return body, nil
}

func (s *ftpSession) cmd(format string, args ...interface{}) (int, string, error) {
	if _, err := s.text.Cmd(format, args...); err != nil {
		return 0, "", err
	}
	code, msg, err := s.text.ReadResponse(0)
	if err != nil {
		if _, ok := err.(*textproto.Error); ok {
			// Code already parsed; the caller decides on it
			return code, msg, nil
		}
		return 0, "", err
	}
	return code, msg, nil
}

func (s *ftpSession) quit() {
	_ = s.conn.SetDeadline(time.Now().Add(time.Second))
	if _, err := s.text.Cmd("QUIT"); err == nil {
		_, _, _ = s.text.ReadResponse(0)
	}
}

// parsePASV reads "Entering Passive Mode (h1,h2,h3,h4,p1,p2)"
func parsePASV(msg string) (string, error) {
	start := strings.Index(msg, "(")
	end := strings.LastIndex(msg, ")")
	if start < 0 || end <= start {
		return "", newFetchError(models.KindFTPMisc, "malformed PASV reply", msg)
	}

	fields := strings.Split(msg[start+1:end], ",")
	if len(fields) != 6 {
		return "", newFetchError(models.KindFTPMisc, "malformed PASV reply", msg)
	}

	octets := make([]int, 6)
	for i, field := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || n < 0 || n > 255 {
			return "", newFetchError(models.KindFTPMisc, "malformed PASV reply", msg)
		}
		octets[i] = n
	}

	host := fmt.Sprintf("%d.%d.%d.%d", octets[0], octets[1], octets[2], octets[3])
	port := octets[4]*256 + octets[5]
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

func replyAux(code int, msg string) string {
	return fmt.Sprintf("%d %s", code, msg)
}
