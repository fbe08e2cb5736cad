package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"studyroom-bot/internal/domain"
)

func userItem(u domain.User) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":         sAttr(userPK(u.UserID)),
		"SK":         sAttr(skProfile),
		"GSI1PK":     sAttr(gsi1Users),
		"GSI1SK":     timeAttr(u.CreatedAt),
		"user_id":    nAttr(u.UserID),
		"username":   sAttr(u.Username),
		"first_name": sAttr(u.FirstName),
		"role":       sAttr(string(u.Role)),
		"created_at": timeAttr(u.CreatedAt),
	}
	if u.CurrentRoomCode != "" {
		item["current_room_code"] = sAttr(u.CurrentRoomCode)
	}
	return item
}

// GetUser loads a user profile.
func (c *Client) GetUser(ctx context.Context, userID int64) (domain.User, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(userPK(userID), skProfile),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("repository: GetUser get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.User{}, domain.ErrNotFound
	}
	u, err := itemToUser(out.Item)
	if err != nil {
		c.rejectRecord("user", out.Item, err)
		return domain.User{}, fmt.Errorf("repository: GetUser: %w", err)
	}
	return u, nil
}

// EnsureUser registers u unless a profile already exists, and returns the
// stored profile. created reports whether u was inserted.
func (c *Client) EnsureUser(ctx context.Context, u domain.User) (domain.User, bool, error) {
	if u.UserID == 0 {
		return domain.User{}, false, errors.New("repository: EnsureUser: user id is required")
	}
	if u.Role == "" {
		u.Role = domain.RoleUser
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = c.now().UTC()
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                userItem(u),
		ConditionExpression: aws.String(condNotExists),
	})
	if err == nil {
		return u, true, nil
	}
	if !isConditionFailed(err) {
		return domain.User{}, false, fmt.Errorf("repository: EnsureUser: %w", err)
	}
	existing, err := c.GetUser(ctx, u.UserID)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("repository: EnsureUser: %w", err)
	}
	return existing, false, nil
}

// SetCurrentRoom binds code as the user's current room; an empty code clears it.
func (c *Client) SetCurrentRoom(ctx context.Context, userID int64, code string) error {
	in := &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(userPK(userID), skProfile),
		ConditionExpression: aws.String(condExists),
	}
	if code == "" {
		in.UpdateExpression = aws.String("REMOVE current_room_code")
	} else {
		in.UpdateExpression = aws.String("SET current_room_code = :code")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{":code": sAttr(code)}
	}
	if _, err := c.api.UpdateItem(ctx, in); err != nil {
		if isConditionFailed(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("repository: SetCurrentRoom: %w", err)
	}
	return nil
}

// SetRole changes the role of an existing user.
func (c *Client) SetRole(ctx context.Context, userID int64, role domain.Role) (domain.User, error) {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       key(userPK(userID), skProfile),
		UpdateExpression:          aws.String("SET #role = :role"),
		ConditionExpression:       aws.String(condExists),
		ExpressionAttributeNames:  map[string]string{"#role": "role"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":role": sAttr(string(role))},
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("repository: SetRole: %w", err)
	}
	u, err := itemToUser(out.Attributes)
	if err != nil {
		c.rejectRecord("user", out.Attributes, err)
		return domain.User{}, fmt.Errorf("repository: SetRole: %w", err)
	}
	return u, nil
}

// ListUsers returns registered users newest first.
func (c *Client) ListUsers(ctx context.Context, offset, limit int) ([]domain.User, error) {
	users, err := listIndex(ctx, c, gsi1Users, offset, limit, nil, nil, itemToUser)
	if err != nil {
		return nil, fmt.Errorf("repository: ListUsers: %w", err)
	}
	return users, nil
}
