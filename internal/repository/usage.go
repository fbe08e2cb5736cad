package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"studyroom-bot/internal/domain"
)

// GetUsage loads the counter of userID for date.
func (c *Client) GetUsage(ctx context.Context, userID int64, date string) (domain.UsageCounter, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(usagePK(userID), usageSK(date)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.UsageCounter{}, fmt.Errorf("repository: GetUsage get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.UsageCounter{}, domain.ErrNotFound
	}
	u, err := itemToUsage(out.Item)
	if err != nil {
		c.rejectRecord("usage", out.Item, err)
		return domain.UsageCounter{}, fmt.Errorf("repository: GetUsage: %w", err)
	}
	return u, nil
}

// IncrementUsage adds one to the counter of userID for date in a single
// conditional upsert. It fails with domain.ErrQuotaExceeded once the stored
// count has reached limit.
func (c *Client) IncrementUsage(ctx context.Context, userID int64, date, command string, limit int) (domain.UsageCounter, error) {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key:       key(usagePK(userID), usageSK(date)),
		UpdateExpression: aws.String(
			"SET user_id = :uid, usage_date = :date, last_command = :cmd, GSI1PK = :gpk, GSI1SK = :gsk ADD #count :one"),
		ConditionExpression:      aws.String("attribute_not_exists(#count) OR #count < :limit"),
		ExpressionAttributeNames: map[string]string{"#count": "count"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid":   nAttr(userID),
			":date":  sAttr(date),
			":cmd":   sAttr(command),
			":gpk":   sAttr(gsi1UsagePref + date),
			":gsk":   sAttr(usagePK(userID)),
			":one":   nAttr(1),
			":limit": nAttr(int64(limit)),
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return domain.UsageCounter{}, domain.ErrQuotaExceeded
		}
		return domain.UsageCounter{}, fmt.Errorf("repository: IncrementUsage: %w", err)
	}
	u, err := itemToUsage(out.Attributes)
	if err != nil {
		c.rejectRecord("usage", out.Attributes, err)
		return domain.UsageCounter{}, fmt.Errorf("repository: IncrementUsage: %w", err)
	}
	return u, nil
}

// TotalUsage sums the AI calls of every user on date.
func (c *Client) TotalUsage(ctx context.Context, date string) (int, error) {
	total := 0
	err := c.queryPages(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(gsi1Name),
		KeyConditionExpression: aws.String("GSI1PK = :gpk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":gpk": sAttr(gsi1UsagePref + date),
		},
	}, func(item map[string]types.AttributeValue) bool {
		u, err := itemToUsage(item)
		if err != nil {
			c.rejectRecord("usage", item, err)
			return true
		}
		total += u.Count
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("repository: TotalUsage query: %w", err)
	}
	return total, nil
}
