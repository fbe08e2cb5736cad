package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"studyroom-bot/internal/domain"
)

func roomItem(r domain.Room) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":          sAttr(roomPK(r.Code)),
		"SK":          sAttr(skMeta),
		"GSI1PK":      sAttr(gsi1Rooms),
		"GSI1SK":      timeAttr(r.CreatedAt),
		"code":        sAttr(r.Code),
		"name":        sAttr(r.Name),
		"description": sAttr(r.Description),
		"owner_id":    nAttr(r.OwnerID),
		"is_active":   &types.AttributeValueMemberBOOL{Value: r.Active},
		"created_at":  timeAttr(r.CreatedAt),
	}
	if len(r.Members) > 0 {
		item["members"] = memberSet(r.Members...)
	}
	if r.LinkedChannelID != 0 {
		item["linked_channel_id"] = nAttr(r.LinkedChannelID)
	}
	return item
}

func memberSet(ids ...int64) types.AttributeValue {
	vals := make([]string, 0, len(ids))
	for _, id := range ids {
		vals = append(vals, strconv.FormatInt(id, 10))
	}
	return &types.AttributeValueMemberNS{Value: vals}
}

// CreateRoom stores a new active room owned by ownerID, with the owner as its
// only member, under a freshly generated unique code.
func (c *Client) CreateRoom(ctx context.Context, name, description string, ownerID int64) (domain.Room, error) {
	if name == "" {
		return domain.Room{}, errors.New("repository: CreateRoom: name is required")
	}
	room := domain.Room{
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		Members:     []int64{ownerID},
		Active:      true,
		CreatedAt:   c.now().UTC(),
	}
	for attempt := 0; attempt < roomCodeTries; attempt++ {
		code, err := c.newCode()
		if err != nil {
			return domain.Room{}, err
		}
		room.Code = code
		_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(c.tableName),
			Item:                roomItem(room),
			ConditionExpression: aws.String(condNotExists),
		})
		if err == nil {
			return room, nil
		}
		if !isConditionFailed(err) {
			return domain.Room{}, fmt.Errorf("repository: CreateRoom: %w", err)
		}
		c.logger.Info("repository: room code collision", "code", code, "attempt", attempt+1)
	}
	return domain.Room{}, fmt.Errorf("repository: CreateRoom: %w: no unique code after %d attempts", domain.ErrConflict, roomCodeTries)
}

// GetRoom loads a room regardless of its active flag.
func (c *Client) GetRoom(ctx context.Context, code string) (domain.Room, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(roomPK(code), skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Room{}, fmt.Errorf("repository: GetRoom get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Room{}, domain.ErrNotFound
	}
	r, err := itemToRoom(out.Item)
	if err != nil {
		c.rejectRecord("room", out.Item, err)
		return domain.Room{}, fmt.Errorf("repository: GetRoom: %w", err)
	}
	return r, nil
}

// GetActiveRoom loads a room and reports domain.ErrNotFound for deactivated ones.
func (c *Client) GetActiveRoom(ctx context.Context, code string) (domain.Room, error) {
	r, err := c.GetRoom(ctx, code)
	if err != nil {
		return domain.Room{}, err
	}
	if !r.Active {
		return domain.Room{}, domain.ErrNotFound
	}
	return r, nil
}

// AddMember atomically adds userID to the member set of an active room.
func (c *Client) AddMember(ctx context.Context, code string, userID int64) (domain.Room, error) {
	return c.updateMembers(ctx, "AddMember", code, "ADD members :m",
		"attribute_exists(PK) AND is_active = :active", userID)
}

// RemoveMember atomically removes userID from the member set of a room.
func (c *Client) RemoveMember(ctx context.Context, code string, userID int64) (domain.Room, error) {
	return c.updateMembers(ctx, "RemoveMember", code, "DELETE members :m", condExists, userID)
}

func (c *Client) updateMembers(ctx context.Context, op, code, update, cond string, userID int64) (domain.Room, error) {
	vals := map[string]types.AttributeValue{":m": memberSet(userID)}
	if op == "AddMember" {
		vals[":active"] = &types.AttributeValueMemberBOOL{Value: true}
	}
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       key(roomPK(code), skMeta),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeValues: vals,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return domain.Room{}, domain.ErrNotFound
		}
		return domain.Room{}, fmt.Errorf("repository: %s: %w", op, err)
	}
	r, err := itemToRoom(out.Attributes)
	if err != nil {
		c.rejectRecord("room", out.Attributes, err)
		return domain.Room{}, fmt.Errorf("repository: %s: %w", op, err)
	}
	return r, nil
}

// LinkChat binds chatID to the active room code on behalf of its owner.
// Every write is conditioned on the state read here: the room's previous
// channel and the chat's previous room are unlinked in the same transaction,
// and a concurrent change fails the call with domain.ErrConflict. A caller
// who does not own the room gets domain.ErrForbidden.
func (c *Client) LinkChat(ctx context.Context, code string, chatID, ownerID int64) (domain.Room, error) {
	room, err := c.GetActiveRoom(ctx, code)
	if err != nil {
		return domain.Room{}, err
	}
	if room.OwnerID != ownerID {
		return domain.Room{}, fmt.Errorf("repository: LinkChat: %w: not the room owner", domain.ErrForbidden)
	}
	prevCode, err := c.linkedCode(ctx, chatID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Room{}, fmt.Errorf("repository: LinkChat: %w", err)
	}

	link := &types.Put{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        sAttr(chatPK(chatID)),
			"SK":        sAttr(skLink),
			"chat_id":   nAttr(chatID),
			"room_code": sAttr(code),
		},
		ConditionExpression: aws.String(condNotExists),
	}
	if prevCode != "" {
		link.ConditionExpression = aws.String("room_code = :prev")
		link.ExpressionAttributeValues = map[string]types.AttributeValue{":prev": sAttr(prevCode)}
	}

	roomCond := "is_active = :active AND owner_id = :owner AND attribute_not_exists(linked_channel_id)"
	vals := map[string]types.AttributeValue{
		":chat":   nAttr(chatID),
		":active": &types.AttributeValueMemberBOOL{Value: true},
		":owner":  nAttr(ownerID),
	}
	if room.IsLinked() {
		roomCond = "is_active = :active AND owner_id = :owner AND linked_channel_id = :prev"
		vals[":prev"] = nAttr(room.LinkedChannelID)
	}
	items := []types.TransactWriteItem{
		{Put: link},
		{
			Update: &types.Update{
				TableName:                 aws.String(c.tableName),
				Key:                       key(roomPK(code), skMeta),
				UpdateExpression:          aws.String("SET linked_channel_id = :chat"),
				ConditionExpression:       aws.String(roomCond),
				ExpressionAttributeValues: vals,
			},
		},
	}
	if room.IsLinked() && room.LinkedChannelID != chatID {
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName:                 aws.String(c.tableName),
				Key:                       key(chatPK(room.LinkedChannelID), skLink),
				ConditionExpression:       aws.String("room_code = :code"),
				ExpressionAttributeValues: map[string]types.AttributeValue{":code": sAttr(code)},
			},
		})
	}
	if prevCode != "" && prevCode != code {
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName:                 aws.String(c.tableName),
				Key:                       key(roomPK(prevCode), skMeta),
				UpdateExpression:          aws.String("REMOVE linked_channel_id"),
				ConditionExpression:       aws.String("linked_channel_id = :chat"),
				ExpressionAttributeValues: map[string]types.AttributeValue{":chat": nAttr(chatID)},
			},
		})
	}
	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		if isConditionFailed(err) {
			return domain.Room{}, fmt.Errorf("repository: LinkChat: %w", domain.ErrConflict)
		}
		return domain.Room{}, fmt.Errorf("repository: LinkChat: %w", err)
	}
	room.LinkedChannelID = chatID
	return room, nil
}

// linkedCode returns the room code stored for chatID.
func (c *Client) linkedCode(ctx context.Context, chatID int64) (string, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(chatPK(chatID), skLink),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("repository: get chat link: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", domain.ErrNotFound
	}
	code, err := strAttr(out.Item, "room_code")
	if err != nil {
		c.rejectRecord("chat link", out.Item, err)
		return "", fmt.Errorf("repository: chat link: %w", invalid("chat link", err))
	}
	return code, nil
}

// GetRoomByChat returns the active room linked to chatID.
func (c *Client) GetRoomByChat(ctx context.Context, chatID int64) (domain.Room, error) {
	code, err := c.linkedCode(ctx, chatID)
	if err != nil {
		return domain.Room{}, err
	}
	room, err := c.GetActiveRoom(ctx, code)
	if err != nil {
		return domain.Room{}, err
	}
	if room.LinkedChannelID != chatID {
		return domain.Room{}, domain.ErrNotFound
	}
	return room, nil
}

// DisconnectChat removes the link of chatID and returns the room it was
// linked to.
func (c *Client) DisconnectChat(ctx context.Context, chatID int64) (domain.Room, error) {
	code, err := c.linkedCode(ctx, chatID)
	if err != nil {
		return domain.Room{}, err
	}
	room, err := c.GetRoom(ctx, code)
	if err != nil {
		return domain.Room{}, err
	}
	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Delete: &types.Delete{
					TableName:                 aws.String(c.tableName),
					Key:                       key(chatPK(chatID), skLink),
					ConditionExpression:       aws.String("room_code = :code"),
					ExpressionAttributeValues: map[string]types.AttributeValue{":code": sAttr(code)},
				},
			},
			{
				Update: &types.Update{
					TableName:                 aws.String(c.tableName),
					Key:                       key(roomPK(code), skMeta),
					UpdateExpression:          aws.String("REMOVE linked_channel_id"),
					ConditionExpression:       aws.String("linked_channel_id = :chat"),
					ExpressionAttributeValues: map[string]types.AttributeValue{":chat": nAttr(chatID)},
				},
			},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return domain.Room{}, domain.ErrNotFound
		}
		return domain.Room{}, fmt.Errorf("repository: DisconnectChat: %w", err)
	}
	room.LinkedChannelID = 0
	return room, nil
}

// DeactivateRoom soft-deletes a room. Its code is never reissued.
func (c *Client) DeactivateRoom(ctx context.Context, code string) (domain.Room, error) {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       key(roomPK(code), skMeta),
		UpdateExpression:          aws.String("SET is_active = :inactive"),
		ConditionExpression:       aws.String(condExists),
		ExpressionAttributeValues: map[string]types.AttributeValue{":inactive": &types.AttributeValueMemberBOOL{Value: false}},
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return domain.Room{}, domain.ErrNotFound
		}
		return domain.Room{}, fmt.Errorf("repository: DeactivateRoom: %w", err)
	}
	r, err := itemToRoom(out.Attributes)
	if err != nil {
		c.rejectRecord("room", out.Attributes, err)
		return domain.Room{}, fmt.Errorf("repository: DeactivateRoom: %w", err)
	}
	return r, nil
}

// ListRooms returns active rooms newest first.
func (c *Client) ListRooms(ctx context.Context, offset, limit int) ([]domain.Room, error) {
	rooms, err := listIndex(ctx, c, gsi1Rooms, offset, limit,
		aws.String("is_active = :active"),
		map[string]types.AttributeValue{":active": &types.AttributeValueMemberBOOL{Value: true}},
		itemToRoom)
	if err != nil {
		return nil, fmt.Errorf("repository: ListRooms: %w", err)
	}
	return rooms, nil
}
