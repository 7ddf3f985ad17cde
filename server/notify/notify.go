package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
)

// Sink delivers one outbound email.
type Sink interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// OTPSubject is the subject line of verification mails.
const OTPSubject = "Your OTP for Chat App"

// OTPBody renders the verification mail for code.
func OTPBody(code, originalRecipient string) string {
	var b strings.Builder
	b.WriteString(`<div style="font-family: Arial, sans-serif; padding: 20px; max-width: 600px; margin: 0 auto;">`)
	b.WriteString(`<h2 style="color: #5B45E0; margin-bottom: 20px;">Verify your email</h2>`)
	b.WriteString(`<p style="margin-bottom: 15px;">Your verification code is:</p>`)
	fmt.Fprintf(&b, `<div style="background-color: #f4f4f4; padding: 15px; border-radius: 8px; text-align: center; font-size: 24px; letter-spacing: 5px; font-weight: bold;">%s</div>`, html.EscapeString(code))
	b.WriteString(`<p style="margin-top: 15px; color: #666;">This code will expire in 10 minutes.</p>`)
	b.WriteString(`<p style="color: #888; font-size: 14px; margin-top: 30px;">If you didn't request this code, you can safely ignore this email.</p>`)
	if originalRecipient != "" {
		fmt.Fprintf(&b, `<p style="color: #888; font-size: 14px;">Testing Mode: Original recipient was %s</p>`, html.EscapeString(originalRecipient))
	}
	b.WriteString(`</div>`)
	return b.String()
}
