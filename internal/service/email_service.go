package service

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/sirupsen/logrus"
)

// EmailService sends transactional email via Amazon SES. It is disabled
// unless a from address is configured; a disabled service accepts every send
// and does nothing, so callers never branch on it.
type EmailService struct {
	client    *sesv2.Client
	fromEmail string
	fromName  string
	enabled   bool
	log       *logrus.Logger
}

// NewEmailService creates a new email service
func NewEmailService(awsRegion, fromEmail, fromName string, log *logrus.Logger) (*EmailService, error) {
	if fromEmail == "" {
		log.Info("email service disabled: SES_FROM_EMAIL not configured")
		return &EmailService{enabled: false, log: log}, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(awsRegion),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.WithFields(logrus.Fields{"from": fromEmail, "region": awsRegion}).Info("email service enabled")
	return &EmailService{
		client:    sesv2.NewFromConfig(cfg),
		fromEmail: fromEmail,
		fromName:  fromName,
		enabled:   true,
		log:       log,
	}, nil
}

// IsEnabled returns whether the email service is enabled
func (s *EmailService) IsEnabled() bool {
	return s.enabled
}

// SendPasswordResetEmail sends a password reset email carrying the reset code
func (s *EmailService) SendPasswordResetEmail(ctx context.Context, toEmail, toName, resetToken string) error {
	if !s.enabled {
		s.log.WithField("to", toEmail).Debug("skipping password reset email, service disabled")
		return nil
	}

	subject := "Reset your TaskDesk password"
	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
	<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
		<h2>Password reset request</h2>
		<p>Hi %s,</p>
		<p>We received a request to reset the password for your TaskDesk account.</p>
		<p>Enter this reset code in the app to choose a new password:</p>
		<p style="font-size: 18px; font-family: monospace; word-break: break-all; background: #f4f4f4; padding: 12px;">%s</p>
		<p><strong>This code expires in 1 hour.</strong></p>
		<p>If you didn't request a password reset, you can safely ignore this email.</p>
	</div>
</body>
</html>
`, toName, resetToken)

	textBody := fmt.Sprintf(`Hi %s,

We received a request to reset the password for your TaskDesk account.

Enter this reset code in the app to choose a new password:
%s

This code expires in 1 hour.

If you didn't request a password reset, you can safely ignore this email.
`, toName, resetToken)

	return s.sendEmail(ctx, toEmail, subject, htmlBody, textBody)
}

// SendWelcomeEmail sends a welcome email to a newly registered account
func (s *EmailService) SendWelcomeEmail(ctx context.Context, toEmail, toName string) error {
	if !s.enabled {
		s.log.WithField("to", toEmail).Debug("skipping welcome email, service disabled")
		return nil
	}

	subject := "Welcome to TaskDesk"
	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
	<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
		<h2>Welcome to TaskDesk!</h2>
		<p>Hi %s,</p>
		<p>Your account is ready. Sign in to start organizing your tasks.</p>
	</div>
</body>
</html>
`, toName)

	textBody := fmt.Sprintf(`Hi %s,

Your account is ready. Sign in to start organizing your tasks.
`, toName)

	return s.sendEmail(ctx, toEmail, subject, htmlBody, textBody)
}

// sendEmail sends an email using Amazon SES
func (s *EmailService) sendEmail(ctx context.Context, toEmail, subject, htmlBody, textBody string) error {
	fromAddress := s.fromEmail
	if s.fromName != "" {
		fromAddress = fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{toEmail},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Html: &types.Content{
						Data:    aws.String(htmlBody),
						Charset: aws.String("UTF-8"),
					},
					Text: &types.Content{
						Data:    aws.String(textBody),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", toEmail, err)
	}

	s.log.WithFields(logrus.Fields{"to": toEmail, "subject": subject}).Info("email sent")
	return nil
}
