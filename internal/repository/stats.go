package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func (c *Client) countIndex(ctx context.Context, partition string, filter *string, values map[string]types.AttributeValue) (int, error) {
	vals := map[string]types.AttributeValue{":gpk": sAttr(partition)}
	for k, v := range values {
		vals[k] = v
	}
	return c.countPages(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(c.tableName),
		IndexName:                 aws.String(gsi1Name),
		KeyConditionExpression:    aws.String("GSI1PK = :gpk"),
		FilterExpression:          filter,
		ExpressionAttributeValues: vals,
	})
}

// CountUsers counts registered users.
func (c *Client) CountUsers(ctx context.Context) (int, error) {
	n, err := c.countIndex(ctx, gsi1Users, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("repository: CountUsers: %w", err)
	}
	return n, nil
}

// CountRooms counts active rooms.
func (c *Client) CountRooms(ctx context.Context) (int, error) {
	n, err := c.countIndex(ctx, gsi1Rooms, aws.String("is_active = :active"),
		map[string]types.AttributeValue{":active": &types.AttributeValueMemberBOOL{Value: true}})
	if err != nil {
		return 0, fmt.Errorf("repository: CountRooms: %w", err)
	}
	return n, nil
}

// CountAllFiles counts files across all rooms.
func (c *Client) CountAllFiles(ctx context.Context) (int, error) {
	n, err := c.countIndex(ctx, gsi1Files, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("repository: CountAllFiles: %w", err)
	}
	return n, nil
}
