package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"studyroom-bot/internal/domain"
	"studyroom-bot/internal/tagging"
)

func fileItem(f domain.File, sk string) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":           sAttr(roomPK(f.RoomCode)),
		"SK":           sAttr(sk),
		"GSI1PK":       sAttr(gsi1Files),
		"GSI1SK":       timeAttr(f.CreatedAt),
		"id":           sAttr(f.ID),
		"file_ref":     sAttr(f.FileID),
		"kind":         sAttr(string(f.Kind)),
		"display_name": sAttr(f.DisplayName),
		"caption":      sAttr(f.Caption),
		"uploader_id":  nAttr(f.UploaderID),
		"room_code":    sAttr(f.RoomCode),
		"chat_id":      nAttr(f.ChatID),
		"message_id":   nAttr(f.MessageID),
		"created_at":   timeAttr(f.CreatedAt),
	}
	if len(f.Tags) > 0 {
		item[string(tagging.FieldManual)] = &types.AttributeValueMemberSS{Value: f.Tags}
	}
	if len(f.AITags) > 0 {
		item[string(tagging.FieldSuggested)] = &types.AttributeValueMemberSS{Value: f.AITags}
	}
	return item
}

// SaveFile stores a new content item together with the message reference
// that points at it.
func (c *Client) SaveFile(ctx context.Context, f domain.File) (domain.File, error) {
	if f.RoomCode == "" || f.FileID == "" {
		return domain.File{}, errors.New("repository: SaveFile: room code and file ref are required")
	}
	if f.ID == "" {
		f.ID = c.newID()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = c.now().UTC()
	}
	sk := fileSK(f.CreatedAt, f.ID)

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                fileItem(f, sk),
					ConditionExpression: aws.String(condNotExists),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item: map[string]types.AttributeValue{
						"PK":      sAttr(roomPK(f.RoomCode)),
						"SK":      sAttr(refSK(f.ChatID, f.MessageID)),
						"file_sk": sAttr(sk),
					},
					ConditionExpression: aws.String(condNotExists),
				},
			},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return domain.File{}, fmt.Errorf("repository: SaveFile: %w", domain.ErrConflict)
		}
		return domain.File{}, fmt.Errorf("repository: SaveFile: %w", err)
	}
	return f, nil
}

func (c *Client) fileSortKey(ctx context.Context, ref domain.FileRef) (string, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(roomPK(ref.RoomCode), refSK(ref.ChatID, ref.MessageID)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("repository: get file ref: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", domain.ErrNotFound
	}
	sk, err := strAttr(out.Item, "file_sk")
	if err != nil {
		c.rejectRecord("file ref", out.Item, err)
		return "", invalid("file ref", err)
	}
	return sk, nil
}

// GetFileByRef loads the file carried by the referenced message.
func (c *Client) GetFileByRef(ctx context.Context, ref domain.FileRef) (domain.File, error) {
	sk, err := c.fileSortKey(ctx, ref)
	if err != nil {
		return domain.File{}, err
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(roomPK(ref.RoomCode), sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.File{}, fmt.Errorf("repository: GetFileByRef get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.File{}, domain.ErrNotFound
	}
	f, err := itemToFile(out.Item)
	if err != nil {
		c.rejectRecord("file", out.Item, err)
		return domain.File{}, fmt.Errorf("repository: GetFileByRef: %w", err)
	}
	return f, nil
}

// AddFileTags unions tags into the given tag set of the referenced file with
// a single ADD update.
func (c *Client) AddFileTags(ctx context.Context, ref domain.FileRef, field tagging.Field, tags []string) (domain.File, error) {
	if field != tagging.FieldManual && field != tagging.FieldSuggested {
		return domain.File{}, fmt.Errorf("repository: AddFileTags: unknown field %q", field)
	}
	if len(tags) == 0 {
		return domain.File{}, errors.New("repository: AddFileTags: tags must not be empty")
	}
	sk, err := c.fileSortKey(ctx, ref)
	if err != nil {
		return domain.File{}, err
	}
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       key(roomPK(ref.RoomCode), sk),
		UpdateExpression:          aws.String("ADD #tags :tags"),
		ConditionExpression:       aws.String(condExists),
		ExpressionAttributeNames:  map[string]string{"#tags": string(field)},
		ExpressionAttributeValues: map[string]types.AttributeValue{":tags": &types.AttributeValueMemberSS{Value: tags}},
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return domain.File{}, domain.ErrNotFound
		}
		return domain.File{}, fmt.Errorf("repository: AddFileTags: %w", err)
	}
	f, err := itemToFile(out.Attributes)
	if err != nil {
		c.rejectRecord("file", out.Attributes, err)
		return domain.File{}, fmt.Errorf("repository: AddFileTags: %w", err)
	}
	return f, nil
}

func (c *Client) roomFilesQuery(room string) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     sAttr(roomPK(room)),
			":prefix": sAttr(skPrefixFile),
		},
		// Newest first; sort keys embed the creation time.
		ScanIndexForward: aws.Bool(false),
	}
}

// FindFiles walks the files of room newest first and returns those matching
// filter, skipping offset matches and returning at most limit. A
// non-positive limit means no limit.
func (c *Client) FindFiles(ctx context.Context, room string, filter domain.FileFilter, offset, limit int) ([]domain.File, error) {
	if offset < 0 {
		offset = 0
	}
	out := make([]domain.File, 0)
	skipped := 0
	err := c.queryPages(ctx, c.roomFilesQuery(room), func(item map[string]types.AttributeValue) bool {
		f, err := itemToFile(item)
		if err != nil {
			c.rejectRecord("file", item, err)
			return true
		}
		if filter != nil && !filter(f) {
			return true
		}
		if skipped < offset {
			skipped++
			return true
		}
		out = append(out, f)
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, fmt.Errorf("repository: FindFiles query: %w", err)
	}
	return out, nil
}

// CountFiles counts the files of room matching filter.
func (c *Client) CountFiles(ctx context.Context, room string, filter domain.FileFilter) (int, error) {
	n := 0
	err := c.queryPages(ctx, c.roomFilesQuery(room), func(item map[string]types.AttributeValue) bool {
		f, err := itemToFile(item)
		if err != nil {
			c.rejectRecord("file", item, err)
			return true
		}
		if filter == nil || filter(f) {
			n++
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("repository: CountFiles query: %w", err)
	}
	return n, nil
}

// ListFiles returns files across all rooms newest first.
func (c *Client) ListFiles(ctx context.Context, offset, limit int) ([]domain.File, error) {
	files, err := listIndex(ctx, c, gsi1Files, offset, limit, nil, nil, itemToFile)
	if err != nil {
		return nil, fmt.Errorf("repository: ListFiles: %w", err)
	}
	return files, nil
}
