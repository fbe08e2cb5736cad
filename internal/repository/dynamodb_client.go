package repository

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"studyroom-bot/internal/domain"
)

const (
	skProfile      = "PROFILE"
	skMeta         = "META"
	skLink         = "LINK"
	skPrefixFile   = "FILE#"
	skPrefixRef    = "REF#"
	skPrefixDate   = "DATE#"
	gsi1Name       = "GSI1"
	gsi1Users      = "USERS"
	gsi1Rooms      = "ROOMS"
	gsi1Files      = "FILES"
	gsi1UsagePref  = "USAGE#"
	roomCodeTries  = 5
	condNotExists  = "attribute_not_exists(PK) AND attribute_not_exists(SK)"
	condExists     = "attribute_exists(PK)"
	sortableLayout = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores users, rooms, files and usage counters in one DynamoDB table.
type Client struct {
	api       dynamodbAPI
	tableName string
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
	newCode   func() (string, error)
}

type Option func(*Client)

// WithLogger sets the logger used to report rejected records.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time source for created_at values.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{
		api:       api,
		tableName: tableName,
		logger:    slog.Default(),
		now:       time.Now,
		newID:     uuid.NewString,
		newCode:   newRoomCode,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func userPK(userID int64) string {
	return "USER#" + strconv.FormatInt(userID, 10)
}

func roomPK(code string) string {
	return "ROOM#" + code
}

func chatPK(chatID int64) string {
	return "CHAT#" + strconv.FormatInt(chatID, 10)
}

func usagePK(userID int64) string {
	return "USAGE#" + strconv.FormatInt(userID, 10)
}

func usageSK(date string) string {
	return skPrefixDate + date
}

// fileSK orders files by creation time; the fixed-width layout keeps the
// lexical order of sort keys equal to the chronological order.
func fileSK(created time.Time, id string) string {
	return skPrefixFile + sortableTime(created) + "#" + id
}

func refSK(chatID, messageID int64) string {
	return skPrefixRef + strconv.FormatInt(chatID, 10) + "#" + strconv.FormatInt(messageID, 10)
}

func sortableTime(t time.Time) string {
	return t.UTC().Format(sortableLayout)
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func newRoomCode() (string, error) {
	alphabet := domain.RoomCodeAlphabet
	size := big.NewInt(int64(len(alphabet)))
	b := make([]byte, domain.RoomCodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("repository: generate room code: %w", err)
		}
		b[i] = alphabet[n.Int64()]
	}
	return string(b), nil
}

// isConditionFailed reports whether err is a failed condition expression,
// either on a single write or inside a cancelled transaction.
func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, r := range tce.CancellationReasons {
			if r.Code != nil && *r.Code == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}

// queryPages runs in and every following page, handing each item to visit
// until visit returns false.
func (c *Client) queryPages(ctx context.Context, in *dynamodb.QueryInput, visit func(map[string]types.AttributeValue) bool) error {
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		for _, item := range out.Items {
			if !visit(item) {
				return nil
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// countPages sums the Count of every page of a Select=COUNT query.
func (c *Client) countPages(ctx context.Context, in *dynamodb.QueryInput) (int, error) {
	in.Select = types.SelectCount
	total := 0
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return 0, err
		}
		if out == nil {
			return total, nil
		}
		total += int(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// listIndex pages through one GSI1 partition newest first, skipping offset
// decoded records and returning at most limit.
func listIndex[T any](ctx context.Context, c *Client, partition string, offset, limit int, filter *string, values map[string]types.AttributeValue, decode func(map[string]types.AttributeValue) (T, error)) ([]T, error) {
	if offset < 0 {
		offset = 0
	}
	vals := map[string]types.AttributeValue{
		":gpk": &types.AttributeValueMemberS{Value: partition},
	}
	for k, v := range values {
		vals[k] = v
	}
	in := &dynamodb.QueryInput{
		TableName:                 aws.String(c.tableName),
		IndexName:                 aws.String(gsi1Name),
		KeyConditionExpression:    aws.String("GSI1PK = :gpk"),
		FilterExpression:          filter,
		ExpressionAttributeValues: vals,
		ScanIndexForward:          aws.Bool(false),
	}
	out := make([]T, 0)
	skipped := 0
	err := c.queryPages(ctx, in, func(item map[string]types.AttributeValue) bool {
		v, err := decode(item)
		if err != nil {
			c.rejectRecord(partition, item, err)
			return true
		}
		if skipped < offset {
			skipped++
			return true
		}
		out = append(out, v)
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) rejectRecord(scope string, item map[string]types.AttributeValue, err error) {
	pk, _ := strAttr(item, "PK")
	sk, _ := strAttr(item, "SK")
	c.logger.Warn("repository: rejected invalid record", "scope", scope, "pk", pk, "sk", sk, "err", err)
}
