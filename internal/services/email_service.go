package services

import (
	"context"
	"fmt"
	"strings"

	"mpesa-orders/internal/models"
	"mpesa-orders/pkg/mailer"
)

// OrderMailer sends order emails. Callers treat every error as best-effort.
type OrderMailer interface {
	SendConfirmation(ctx context.Context, order models.Order) error
	SendAdminAlert(ctx context.Context, order models.Order) error
}

// EmailService renders order emails and hands them to a mailer.Sender.
type EmailService struct {
	sender     mailer.Sender
	adminEmail string
}

// NewEmailService creates a new EmailService. An empty adminEmail disables admin alerts.
func NewEmailService(sender mailer.Sender, adminEmail string) *EmailService {
	return &EmailService{sender: sender, adminEmail: adminEmail}
}

// SendConfirmation emails the customer a payment receipt. Orders without an email are skipped.
func (s *EmailService) SendConfirmation(ctx context.Context, order models.Order) error {
	if order.CustomerInfo.Email == "" {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", order.CustomerInfo.Name)
	fmt.Fprintf(&b, "We have received your payment for order %s.\n\n", order.ID)
	writeOrderSummary(&b, order)
	b.WriteString("\nYour order will be delivered to:\n" + order.CustomerInfo.Address + "\n\nThank you for shopping with us.\n")

	return s.sender.Send(ctx, mailer.Message{
		To:      []string{order.CustomerInfo.Email},
		Subject: fmt.Sprintf("Payment received for order %s", order.ID),
		Body:    b.String(),
	})
}

// SendAdminAlert tells the operator a paid order is ready for fulfilment.
func (s *EmailService) SendAdminAlert(ctx context.Context, order models.Order) error {
	if s.adminEmail == "" {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Order %s has been paid.\n\n", order.ID)
	fmt.Fprintf(&b, "Customer: %s (%s)\n", order.CustomerInfo.Name, order.CustomerInfo.Phone)
	fmt.Fprintf(&b, "Deliver to: %s\n\n", order.CustomerInfo.Address)
	writeOrderSummary(&b, order)

	return s.sender.Send(ctx, mailer.Message{
		To:      []string{s.adminEmail},
		Subject: fmt.Sprintf("New paid order %s", order.ID),
		Body:    b.String(),
	})
}

func writeOrderSummary(b *strings.Builder, order models.Order) {
	for _, item := range order.Items {
		fmt.Fprintf(b, "  %d x %s @ KES %s\n", item.Quantity, item.Name, item.Price.StringFixed(2))
	}
	fmt.Fprintf(b, "Total: KES %s\n", order.Total.StringFixed(2))
	if d := order.PaymentDetails; d.ReceiptNumber != "" {
		fmt.Fprintf(b, "M-Pesa receipt: %s\n", d.ReceiptNumber)
	}
}
