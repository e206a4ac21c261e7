package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"taskflow/internal/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// SNS subjects must be UTF-8 without control characters and shorter than 100 characters.
const maxSubjectLen = 99

type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSink publishes each notification once to a topic. Recipients travel in the
// "email" message attribute so subscription filter policies can route per user.
type SNSSink struct {
	client   Publisher
	topicARN string
}

func NewSNSSink(client Publisher, topicARN string) *SNSSink {
	return &SNSSink{client: client, topicARN: topicARN}
}

func (s *SNSSink) Send(ctx context.Context, n Notification) error {
	start := time.Now()

	recipients, err := json.Marshal(n.Recipients)
	if err != nil {
		return fmt.Errorf("encode recipients: %w", err)
	}

	subject := snsSubject(n.Subject)

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(n.Body),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"email": {
				DataType:    aws.String("String.Array"),
				StringValue: aws.String(string(recipients)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}

	logger.Info("Notify: published",
		zap.String("message_id", aws.ToString(out.MessageId)),
		zap.Int("recipients", len(n.Recipients)),
		zap.Duration("ms", time.Since(start)))
	return nil
}

// snsSubject makes s acceptable as an SNS subject. Line breaks become spaces, other
// control characters and invalid bytes are dropped, and the result is cut on a rune boundary.
func snsSubject(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)

	if runes := []rune(s); len(runes) > maxSubjectLen {
		s = strings.TrimSpace(string(runes[:maxSubjectLen]))
	}
	return s
}
