package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/go-faster/errors"
	"github.com/wneessen/go-mail"

	"github.com/xenking/orderlink/internal/domain/order"
)

// MailConfig holds SMTP delivery settings for order notifications.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// Mailer sends an HTML summary of each submitted order over SMTP.
type Mailer struct {
	cfg MailConfig
}

var _ order.Notifier = (*Mailer)(nil)

// NewMailer creates a Mailer with the given SMTP configuration.
func NewMailer(cfg MailConfig) *Mailer {
	return &Mailer{cfg: cfg}
}

// OrderSubmitted renders and sends the order summary email.
func (m *Mailer) OrderSubmitted(ctx context.Context, o *order.SubmittedOrder) error {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return errors.Wrap(err, "set from")
	}
	if err := msg.To(m.cfg.To...); err != nil {
		return errors.Wrap(err, "set recipients")
	}
	msg.Subject(fmt.Sprintf("Order #%d / %s / %s",
		o.OrderNumber, o.Payload.Customer.Name, o.Payload.Totals.TotalValue.StringFixed(2)))
	msg.SetBodyString(mail.TypeTextHTML, renderOrderHTML(o))

	client, err := mail.NewClient(m.cfg.Host,
		mail.WithPort(m.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return errors.Wrap(err, "create smtp client")
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return errors.Wrap(err, "send notification")
	}
	return nil
}

// renderOrderHTML builds the per-line summary table. Kept deliberately plain:
// this mail targets back-office inboxes, not customers.
func renderOrderHTML(o *order.SubmittedOrder) string {
	var b strings.Builder
	b.WriteString("<html><body style=\"font-family: Arial, sans-serif\">")
	fmt.Fprintf(&b, "<h2>New order #%d</h2>", o.OrderNumber)
	fmt.Fprintf(&b, "<p><strong>%s</strong> (customer %d",
		html.EscapeString(o.Payload.Customer.Name), o.Payload.Customer.ID)
	if o.Payload.Customer.TaxID != "" {
		fmt.Fprintf(&b, ", tax id %s", html.EscapeString(o.Payload.Customer.TaxID))
	}
	b.WriteString(")</p>")

	fmt.Fprintf(&b, "<p>Approved by %s &lt;%s&gt;, phone %s</p>",
		html.EscapeString(o.Approver.Name),
		html.EscapeString(o.Approver.Email),
		html.EscapeString(o.Approver.Phone))

	b.WriteString("<table border=\"1\" cellpadding=\"6\" cellspacing=\"0\">")
	b.WriteString("<tr><th>Code</th><th>Description</th><th>Qty</th><th>Unit</th><th>Subtotal</th></tr>")
	for _, it := range o.Payload.Items {
		unit, subtotal := "n/a", "n/a"
		if it.UnitPrice.Valid {
			unit = it.UnitPrice.Decimal.StringFixed(2)
		}
		if it.Subtotal.Valid {
			subtotal = it.Subtotal.Decimal.StringFixed(2)
		}
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>",
			html.EscapeString(it.Code),
			html.EscapeString(it.Description),
			it.Qty.String(), unit, subtotal)
	}
	b.WriteString("</table>")

	fmt.Fprintf(&b, "<h3>Total: %s (%d items",
		o.Payload.Totals.TotalValue.StringFixed(2), o.Payload.Totals.TotalItems)
	if o.Payload.Totals.UnpricedItems > 0 {
		fmt.Fprintf(&b, ", %d without price", o.Payload.Totals.UnpricedItems)
	}
	b.WriteString(")</h3>")
	fmt.Fprintf(&b, "<p>Submitted at %s</p>", o.SubmittedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	b.WriteString("</body></html>")
	return b.String()
}
