package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/monitoring"
	qrcode "github.com/skip2/go-qrcode"
)

const qrContentID = "ticket-qr"

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Brand is shown in the subject and the footer.
	Brand string
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier mails an HTML ticket with the QR code embedded inline.
type SMTPNotifier struct {
	cfg    SMTPConfig
	send   SendFunc
	logger *slog.Logger
	now    func() time.Time
}

func NewSMTPNotifier(cfg SMTPConfig, logger *slog.Logger) *SMTPNotifier {
	if cfg.Brand == "" {
		cfg.Brand = "tixflow"
	}

	return &SMTPNotifier{cfg: cfg, send: smtp.SendMail, logger: logger, now: time.Now}
}

func (n *SMTPNotifier) NotifyTicket(ctx context.Context, t domain.Ticket) error {
	const op = "notify.SMTPNotifier.NotifyTicket"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if t.Buyer.Email == "" {
		return fmt.Errorf("%s: ticket %d has no recipient", op, t.Number)
	}

	msg, err := n.build(t)
	if err != nil {
		monitoring.TrackNotification("error")
		return fmt.Errorf("%s:%w", op, err)
	}

	var auth smtp.Auth
	if n.cfg.Username != "" && n.cfg.Password != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	if err := n.send(addr, auth, n.cfg.From, []string{t.Buyer.Email}, msg); err != nil {
		monitoring.TrackNotification("error")
		return fmt.Errorf("%s: smtp send: %w", op, err)
	}

	monitoring.TrackNotification("sent")
	n.logger.Info("ticket mail sent", "order_id", t.OrderID, "ticket", t.Number, "email", t.Buyer.Email)

	return nil
}

func (n *SMTPNotifier) build(t domain.Ticket) ([]byte, error) {
	number := FormatNumber(t.Number)

	qr, err := qrcode.Encode(fmt.Sprintf("TICKET:%s:%s", number, t.OrderID), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("qr: %w", err)
	}

	var html bytes.Buffer
	if err := ticketHTML.Execute(&html, ticketView{
		Brand:       n.cfg.Brand,
		Number:      number,
		Ticket:      t,
		PurchasedAt: t.PurchasedAt.Format("2006-01-02 15:04 MST"),
		QRContentID: qrContentID,
	}); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", t.Buyer.Email)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", fmt.Sprintf("Your ticket #%s - %s", number, n.cfg.Brand)))
	fmt.Fprintf(&buf, "Date: %s\r\n", n.now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/related; boundary=%q\r\n\r\n", w.Boundary())

	htmlPart, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/html; charset=utf-8"},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return nil, err
	}
	if err := writeBase64(htmlPart, html.Bytes()); err != nil {
		return nil, err
	}

	imgPart, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"image/png"},
		"Content-Transfer-Encoding": {"base64"},
		"Content-ID":                {"<" + qrContentID + ">"},
		"Content-Disposition":       {`inline; filename="ticket-` + number + `.png"`},
	})
	if err != nil {
		return nil, err
	}
	if err := writeBase64(imgPart, qr); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	buf.Write(body.Bytes())
	return buf.Bytes(), nil
}

// writeBase64 writes data base64-encoded in 76 character lines.
func writeBase64(w io.Writer, data []byte) error {
	enc := base64.StdEncoding.EncodeToString(data)
	var sb strings.Builder
	for len(enc) > 76 {
		sb.WriteString(enc[:76])
		sb.WriteString("\r\n")
		enc = enc[76:]
	}
	sb.WriteString(enc)
	sb.WriteString("\r\n")

	_, err := w.Write([]byte(sb.String()))
	return err
}

type ticketView struct {
	Brand       string
	Number      string
	Ticket      domain.Ticket
	PurchasedAt string
	QRContentID string
}

var ticketHTML = template.Must(template.New("ticket").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h1>Purchase confirmed</h1>
  <p>Hi {{.Ticket.Buyer.FullName}},</p>
  <p>Your ticket is confirmed.</p>
  <h2>Ticket #{{.Number}}</h2>
  <img src="cid:{{.QRContentID}}" alt="Ticket #{{.Number}}" width="256" height="256">
  <ul>
    <li>Name: {{.Ticket.Buyer.FullName}}</li>
    <li>Email: {{.Ticket.Buyer.Email}}</li>
    {{- if .Ticket.Buyer.NationalID}}
    <li>RUT: {{.Ticket.Buyer.NationalID}}</li>
    {{- end}}
    {{- if .Ticket.Buyer.Phone}}
    <li>Phone: {{.Ticket.Buyer.Phone}}</li>
    {{- end}}
    <li>Purchased: {{.PurchasedAt}}</li>
    <li>Order: {{.Ticket.OrderID}}</li>
  </ul>
  <p>Keep this e-mail as proof of purchase.</p>
  <p>{{.Brand}}</p>
</body>
</html>
`))
