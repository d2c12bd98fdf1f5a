// Package queue provides SQS-based producers for events consumed outside
// this service.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"lexledger/internal/config"
	"lexledger/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// BalanceAlertPublisher emits a BalanceAlertMessage when a debit moves an
// account into a worse balance band (ok -> low, ok -> critical,
// low -> critical). Debits that stay inside a band publish nothing, so a
// user draining their last credits one by one gets at most two alerts.
//
// It implements ledger.BalanceObserver.
type BalanceAlertPublisher struct {
	client   SQSSender
	queueURL string
	clock    types.Clock
	logger   *slog.Logger
}

// NewBalanceAlertPublisher creates a publisher for the queue configured in
// awsCfg. With an empty SQS_BALANCE_ALERTS URL the publisher is disabled.
func NewBalanceAlertPublisher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *BalanceAlertPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &BalanceAlertPublisher{
		client:   client,
		queueURL: awsCfg.BalanceAlertQueue,
		clock:    types.RealClock{},
		logger:   logger,
	}
}

// Enabled reports whether alerts are actually sent.
func (p *BalanceAlertPublisher) Enabled() bool {
	return p != nil && p.client != nil && p.queueURL != ""
}

// BalanceChanged publishes an alert if acct crossed into a worse band.
func (p *BalanceAlertPublisher) BalanceChanged(ctx context.Context, acct types.Account, previousTotal int) error {
	if !p.Enabled() {
		return nil
	}
	total := acct.TotalBalance()
	level := types.LevelForBalance(total)
	if !worsened(types.LevelForBalance(previousTotal), level) {
		return nil
	}

	msg := types.BalanceAlertMessage{
		AlertID:      uuid.New().String(),
		AccountID:    acct.ID,
		Level:        level,
		TotalBalance: total,
		Plan:         acct.Plan,
		OccurredAt:   p.clock.Now(),
	}
	return p.send(ctx, msg)
}

func (p *BalanceAlertPublisher) send(ctx context.Context, msg types.BalanceAlertMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal BalanceAlertMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"level": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(msg.Level)),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send BalanceAlertMessage to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "balance alert sent",
		"alert_id", msg.AlertID,
		"account_id", msg.AccountID,
		"level", string(msg.Level),
		"total_balance", msg.TotalBalance,
	)
	return nil
}

func severity(l types.BalanceLevel) int {
	switch l {
	case types.BalanceCritical:
		return 2
	case types.BalanceLow:
		return 1
	}
	return 0
}

func worsened(before, after types.BalanceLevel) bool {
	return severity(after) > severity(before)
}
