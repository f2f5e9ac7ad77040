// Package email renders and delivers SmartRack's transactional emails.
//
// A Mailer renders the invite and reset-password templates and hands the
// result to a Sender. Three senders exist, selected by email.transport:
//   - resend: delivers directly through the Resend API
//   - amqp: publishes the message to a durable RabbitMQ queue for an
//     external delivery worker
//   - log: writes the message to the structured log (development only)
package email
