// Package mail delivers verification, login and password reset codes.
//
// SMTPSender renders the embedded HTML templates and sends them over SMTP.
// LogSender writes the message to a zap logger instead and is meant for
// development. Both satisfy identity.Mailer.
package mail
