package imap

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	gomail "github.com/emersion/go-message/mail"
)

// Email is one message pulled from the monitored folder.
type Email struct {
	UID       uint32
	MessageID string
	From      string
	Subject   string
	Body      string
	Date      time.Time
}

// Client wraps IMAP operations against the monitored mailbox. Each
// operation opens its own connection, so the client carries no state
// between calls.
type Client struct {
	host     string
	port     int
	email    string
	password string
	folder   string
	logger   *slog.Logger
}

func NewClient(host string, port int, email, password, folder string, logger *slog.Logger) *Client {
	if folder == "" {
		folder = "INBOX"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		host:     host,
		port:     port,
		email:    email,
		password: password,
		folder:   folder,
		logger:   logger,
	}
}

func (c *Client) connect() (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", c.host, c.port)

	client, err := imapclient.DialTLS(addr, &imapclient.Options{
		TLSConfig: &tls.Config{
			ServerName: c.host,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := client.Login(c.email, c.password).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	return client, nil
}

// TestConnection verifies that the mailbox can be reached and the
// monitored folder selected.
func (c *Client) TestConnection() error {
	client, err := c.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.Select(c.folder, nil).Wait(); err != nil {
		return fmt.Errorf("failed to select folder %s: %w", c.folder, err)
	}
	return nil
}

// FetchUnseen returns every unseen message in the monitored folder with
// its body. Messages are fetched with Peek, so nothing is marked seen
// until MarkSeen is called after processing.
func (c *Client) FetchUnseen() ([]Email, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if _, err := client.Select(c.folder, nil).Wait(); err != nil {
		return nil, fmt.Errorf("failed to select folder %s: %w", c.folder, err)
	}

	searchData, err := client.UIDSearch(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to search for unseen messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	uidSet := imap.UIDSetNum(uids...)

	fetchOptions := &imap.FetchOptions{
		UID:      true,
		Envelope: true,
		BodySection: []*imap.FetchItemBodySection{
			{Peek: true},
		},
	}

	fetchCmd := client.Fetch(uidSet, fetchOptions)

	var emails []Email
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		msgData, err := msg.Collect()
		if err != nil {
			c.logger.Warn("error collecting message", "error", err)
			continue
		}

		email := Email{
			UID: uint32(msgData.UID),
		}

		if msgData.Envelope != nil {
			email.MessageID = msgData.Envelope.MessageID
			email.Subject = msgData.Envelope.Subject
			email.Date = msgData.Envelope.Date
			if len(msgData.Envelope.From) > 0 {
				from := msgData.Envelope.From[0]
				email.From = strings.ToLower(fmt.Sprintf("%s@%s", from.Mailbox, from.Host))
			}
		}

		for _, section := range msgData.BodySection {
			if len(section.Bytes) == 0 {
				continue
			}
			email.Body = parseBody(section.Bytes)
			break
		}

		emails = append(emails, email)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}

	return emails, nil
}

// MarkSeen flags the given messages as read so the next sweep skips them.
func (c *Client) MarkSeen(uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}

	client, err := c.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.Select(c.folder, nil).Wait(); err != nil {
		return fmt.Errorf("failed to select folder %s: %w", c.folder, err)
	}

	imapUIDs := make([]imap.UID, len(uids))
	for i, uid := range uids {
		imapUIDs[i] = imap.UID(uid)
	}

	uidSet := imap.UIDSetNum(imapUIDs...)

	storeCmd := client.Store(uidSet, &imap.StoreFlags{
		Op:    imap.StoreFlagsAdd,
		Flags: []imap.Flag{imap.FlagSeen},
	}, nil)

	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("failed to mark as seen: %w", err)
	}

	return nil
}

// parseBody extracts a text body from a raw RFC 822 message, preferring
// text/plain parts over text/html.
func parseBody(raw []byte) string {
	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// If MIME parsing fails, fall back to everything after the headers.
		return rawBody(raw)
	}
	defer mr.Close()

	var textBody, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		header, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := header.ContentType()
		content, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			if textBody == "" {
				textBody = string(content)
			}
		case strings.HasPrefix(contentType, "text/html"):
			if htmlBody == "" {
				htmlBody = string(content)
			}
		}
	}

	if textBody != "" {
		return textBody
	}
	return htmlBody
}

func rawBody(raw []byte) string {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return string(raw)
	}
	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return ""
	}
	return string(body)
}

// ParseEmailAddress extracts a bare lowercase address from a From header.
func ParseEmailAddress(from string) string {
	if from == "" {
		return ""
	}

	addr, err := mail.ParseAddress(from)
	if err == nil {
		return strings.ToLower(addr.Address)
	}

	return strings.ToLower(strings.TrimSpace(from))
}
