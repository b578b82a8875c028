// Package email sends transactional email through Postmark, or to disk during
// development, and renders the HTML layout used for notification emails.
//
//	sender, err := email.New(cfg)
//	if err != nil {
//		return err
//	}
//	body, err := email.Render(ctx, email.NotificationLayout(email.NotificationContent{
//		Title:   "Fee due",
//		Message: "Term 2 fees are due on Friday.",
//	}))
//	err = sender.SendEmail(ctx, email.SendEmailParams{SendTo: to, Subject: "Fee due", BodyHTML: body})
package email
