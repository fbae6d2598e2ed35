// services/receipt_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/capactiyvirus/cafe-checkout/config"
	"github.com/capactiyvirus/cafe-checkout/models"
	"github.com/capactiyvirus/cafe-checkout/pricing"
)

// Receipt is what the customer is emailed after a completed payment.
type Receipt struct {
	Order     *models.Order
	Reference string
	Subtotal  decimal.Decimal
	Tip       decimal.Decimal
	Total     decimal.Decimal
	Currency  string
	Method    models.PaymentMethod
}

type ReceiptService struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
	FromName     string

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	tmpl     *template.Template
}

type receiptData struct {
	CafeName  string
	OrderID   string
	Reference string
	Items     []receiptLine
	Subtotal  string
	Tip       string
	Total     string
	Currency  string
	Method    string
}

type receiptLine struct {
	Name     string
	Quantity int
	Price    string
}

// NewReceiptService creates a receipt sender from the SMTP settings.
func NewReceiptService(cfg *config.Config) *ReceiptService {
	return &ReceiptService{
		SMTPHost:     cfg.SMTPHost,
		SMTPPort:     cfg.SMTPPort,
		SMTPUsername: cfg.SMTPUsername,
		SMTPPassword: cfg.SMTPPassword,
		FromEmail:    cfg.FromEmail,
		FromName:     cfg.FromName,
		sendMail:     smtp.SendMail,
		tmpl:         template.Must(template.New("receipt.html").Parse(receiptTemplate)),
	}
}

// SendReceipt emails the receipt to the order's customer.
func (e *ReceiptService) SendReceipt(ctx context.Context, receipt *Receipt) error {
	if receipt.Order == nil || receipt.Order.CustomerEmail == "" {
		return fmt.Errorf("receipt has no recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := fmt.Sprintf("Your receipt from %s - Order %s", e.FromName, receipt.Order.ID)

	htmlBody, err := e.renderTemplate(e.receiptData(receipt))
	if err != nil {
		return fmt.Errorf("failed to render receipt: %w", err)
	}

	return e.sendEmail(receipt.Order.CustomerEmail, subject, htmlBody)
}

func (e *ReceiptService) receiptData(r *Receipt) receiptData {
	data := receiptData{
		CafeName:  e.FromName,
		OrderID:   r.Order.ID.String(),
		Reference: r.Reference,
		Subtotal:  pricing.Display(r.Subtotal),
		Tip:       pricing.Display(r.Tip),
		Total:     pricing.Display(r.Total),
		Currency:  strings.ToUpper(r.Currency),
		Method:    methodLabel(r.Method),
	}
	for _, item := range r.Order.Items {
		data.Items = append(data.Items, receiptLine{
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    pricing.Display(decimal.NewFromFloat(item.Price).Mul(decimal.NewFromInt(int64(item.Quantity)))),
		})
	}
	return data
}

func methodLabel(m models.PaymentMethod) string {
	switch m {
	case models.PaymentMethodApplePay:
		return "Apple Pay"
	case models.PaymentMethodGooglePay:
		return "Google Pay"
	default:
		return "Card"
	}
}

// renderTemplate renders the receipt template with data
func (e *ReceiptService) renderTemplate(data receiptData) (string, error) {
	var buf bytes.Buffer
	if err := e.tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// sendEmail sends an email using SMTP
func (e *ReceiptService) sendEmail(to, subject, htmlBody string) error {
	msg := e.buildEmailMessage(to, subject, htmlBody)

	var auth smtp.Auth
	if e.SMTPUsername != "" {
		auth = smtp.PlainAuth("", e.SMTPUsername, e.SMTPPassword, e.SMTPHost)
	}

	return e.sendMail(
		e.SMTPHost+":"+e.SMTPPort,
		auth,
		e.FromEmail,
		[]string{to},
		[]byte(msg),
	)
}

// buildEmailMessage builds the email message with headers
func (e *ReceiptService) buildEmailMessage(to, subject, htmlBody string) string {
	from := fmt.Sprintf("%s <%s>", e.FromName, e.FromEmail)

	msg := fmt.Sprintf("From: %s\r\n", from)
	msg += fmt.Sprintf("To: %s\r\n", to)
	msg += fmt.Sprintf("Subject: %s\r\n", subject)
	msg += "MIME-Version: 1.0\r\n"
	msg += "Content-Type: text/html; charset=UTF-8\r\n"
	msg += "\r\n"
	msg += htmlBody

	return msg
}

const receiptTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Receipt</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; margin: 0; padding: 20px; }
        .container { max-width: 600px; margin: 0 auto; background: #f9f9f9; padding: 20px; }
        .header { background: #3b2c24; color: white; padding: 20px; text-align: center; }
        .content { background: white; padding: 30px; }
        .item { border-bottom: 1px solid #eee; padding: 10px 0; }
        .row { display: flex; justify-content: space-between; }
        .total { font-weight: bold; font-size: 18px; margin-top: 10px; }
        .footer { text-align: center; margin-top: 30px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>{{.CafeName}}</h1>
            <h2>Thank you for your order</h2>
        </div>

        <div class="content">
            <p><strong>Order:</strong> {{.OrderID}}</p>
            <p><strong>Payment reference:</strong> {{.Reference}}</p>

            {{range .Items}}
            <div class="item row">
                <span>{{.Quantity}} &times; {{.Name}}</span>
                <span>{{.Price}}</span>
            </div>
            {{end}}

            <div class="row"><span>Subtotal</span><span>{{.Subtotal}}</span></div>
            <div class="row"><span>Tip</span><span>{{.Tip}}</span></div>
            <div class="row total"><span>Total ({{.Currency}})</span><span>{{.Total}}</span></div>

            <p>Paid with {{.Method}}.</p>
        </div>

        <div class="footer">
            <p>&copy; {{.CafeName}}</p>
        </div>
    </div>
</body>
</html>
`
