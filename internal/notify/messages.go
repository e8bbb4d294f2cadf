package notify

import (
	"fmt"
	"strings"

	"github.com/Additional-Code/raffle/internal/entity"
)

func customerMessage(s Settings, order entity.Order) (subject, body string) {
	subject = fmt.Sprintf("%s: your lucky numbers", s.Title)

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", order.CustomerName)
	fmt.Fprintf(&b, "Your payment for order %s was approved.\n", order.Reference)
	fmt.Fprintf(&b, "Your lucky numbers are: %s\n\n", strings.Join(order.TokenCodes, ", "))
	fmt.Fprintf(&b, "Quantity: %d\nTotal: %s %s\n", order.Quantity, s.Currency, order.TotalAmount.StringFixed(2))
	b.WriteString("\nGood luck!\n")
	return subject, b.String()
}

func operatorMessage(s Settings, order entity.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New payment approved!\n")
	fmt.Fprintf(&b, "Order: %s\n", order.Reference)
	if order.PaymentID != "" {
		fmt.Fprintf(&b, "Payment ID: %s\n", order.PaymentID)
	}
	fmt.Fprintf(&b, "Name: %s\nEmail: %s\nPhone: %s\n", order.CustomerName, order.CustomerEmail, order.Phone)
	fmt.Fprintf(&b, "Tokens (%d): %s\n", order.Quantity, strings.Join(order.TokenCodes, ", "))
	fmt.Fprintf(&b, "Total: %s %s", s.Currency, order.TotalAmount.StringFixed(2))
	return b.String()
}
