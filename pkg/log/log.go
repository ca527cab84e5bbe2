package log

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

func init() {
	logger.Formatter = &logrus.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
		DisableColors:   false,
		ForceColors:     true,
	}
}

func Print(c *fiber.Ctx) *logrus.Entry {
	if c == nil {
		return logger.WithFields(logrus.Fields{})
	}

	remoteIP := c.IP()
	if v := c.Locals("remote_ip"); v != nil {
		if ip, ok := v.(string); ok && ip != "" {
			remoteIP = ip
		}
	}
	return logger.WithFields(logrus.Fields{
		"remote_ip": remoteIP,
		"method":    c.Method(),
		"uri":       c.OriginalURL(),
	})
}

// SessionOp tags an entry with the session operation being handled.
// masked must already have its tail digits hidden.
func SessionOp(c *fiber.Ctx, op string, masked string) *logrus.Entry {
	return Print(c).WithFields(logrus.Fields{
		"op":      op,
		"session": masked,
	})
}

// Command tags an entry for chat command processing, which runs outside
// any HTTP request.
func Command(masked string, command string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"session": masked,
		"command": command,
	})
}
