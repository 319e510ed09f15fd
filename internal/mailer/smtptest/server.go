// Package smtptest runs an in-process SMTP server for tests, on a loopback
// port and without TLS.
package smtptest

import (
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Mail is one accepted message.
type Mail struct {
	From string
	To   []string
	Data string
}

type Server struct {
	// Username and Password are the accepted PLAIN credentials. An empty
	// Username disables AUTH.
	Username string
	Password string
	// RejectRcpt makes every RCPT TO fail with a 550.
	RejectRcpt bool

	ln  net.Listener
	srv *smtp.Server
	wg  sync.WaitGroup

	mu     sync.Mutex
	mails  []Mail
	logins int
	closed bool
}

var errBadLogin = &smtp.SMTPError{
	Code:         535,
	EnhancedCode: smtp.EnhancedCode{5, 7, 8},
	Message:      "authentication credentials invalid",
}

// Start listens on a loopback port and stops the server when the test ends.
func Start(t *testing.T, username, password string) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("smtptest: listen: %v", err)
	}
	s := &Server{Username: username, Password: password, ln: ln}

	s.srv = smtp.NewServer(s)
	s.srv.Domain = "smtptest"
	s.srv.AllowInsecureAuth = true
	s.srv.ReadTimeout = 10 * time.Second
	s.srv.WriteTimeout = 10 * time.Second

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.srv.Serve(ln)
	}()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.ln.Addr().String())
	return host
}

func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.ln.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Close stops accepting connections and drops open sessions. It is safe to
// call more than once.
func (s *Server) Close() {
	s.mu.Lock()
	closed := s.closed
	s.closed = true
	s.mu.Unlock()
	if closed {
		return
	}
	_ = s.srv.Close()
	s.wg.Wait()
}

func (s *Server) Mails() []Mail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Mail(nil), s.mails...)
}

// Logins counts successful AUTH exchanges.
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// NewSession implements smtp.Backend. AUTH is only advertised when the
// server has credentials to check.
func (s *Server) NewSession(*smtp.Conn) (smtp.Session, error) {
	sess := &session{srv: s}
	if s.Username == "" {
		return sess, nil
	}
	return &authSession{session: sess}, nil
}

type session struct {
	srv *Server
	cur Mail
}

func (ss *session) Mail(from string, _ *smtp.MailOptions) error {
	ss.cur = Mail{From: from}
	return nil
}

func (ss *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if ss.srv.RejectRcpt {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "mailbox unavailable",
		}
	}
	ss.cur.To = append(ss.cur.To, to)
	return nil
}

func (ss *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	ss.cur.Data = string(data)
	ss.srv.mu.Lock()
	ss.srv.mails = append(ss.srv.mails, ss.cur)
	ss.srv.mu.Unlock()
	ss.cur = Mail{}
	return nil
}

func (ss *session) Reset() {
	ss.cur = Mail{}
}

func (ss *session) Logout() error {
	return nil
}

type authSession struct {
	*session
}

func (as *authSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (as *authSession) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, errors.New("unsupported mechanism")
	}
	return sasl.NewPlainServer(func(_, username, password string) error {
		if username != as.srv.Username || password != as.srv.Password {
			return errBadLogin
		}
		as.srv.mu.Lock()
		as.srv.logins++
		as.srv.mu.Unlock()
		return nil
	}), nil
}
