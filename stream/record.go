package stream

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lattice/store"
)

// EventSource identifies records produced from store changes.
const EventSource = "lattice:store"

const arnPrefix = "arn:lattice:memory:table/"

// TableARN returns the stream source ARN for a table.
func TableARN(table string) string {
	return arnPrefix + table
}

// TableName extracts the table name from a source ARN.
// Returns "" if the ARN wasn't produced by TableARN.
func TableName(arn string) string {
	name, ok := strings.CutPrefix(arn, arnPrefix)
	if !ok {
		return ""
	}
	return name
}

// NewRecord converts a store change into a stream record carrying both images.
func NewRecord(c store.Change) (events.DynamoDBEventRecord, error) {
	oldImage, err := ToStreamImage(c.OldImage)
	if err != nil {
		return events.DynamoDBEventRecord{}, fmt.Errorf("old image of %s %s: %w", c.Table, c.Key, err)
	}
	newImage, err := ToStreamImage(c.NewImage)
	if err != nil {
		return events.DynamoDBEventRecord{}, fmt.Errorf("new image of %s %s: %w", c.Table, c.Key, err)
	}

	seq := strconv.FormatUint(c.Sequence, 10)
	return events.DynamoDBEventRecord{
		EventID:        c.Partition + "-" + seq,
		EventName:      c.EventName,
		EventSource:    EventSource,
		EventVersion:   "1.1",
		EventSourceArn: TableARN(c.Table),
		Change: events.DynamoDBStreamRecord{
			ApproximateCreationDateTime: events.SecondsEpochTime{Time: c.At},
			Keys: map[string]events.DynamoDBAttributeValue{
				store.AttrID: events.NewStringAttribute(c.Key),
			},
			OldImage:       oldImage,
			NewImage:       newImage,
			SequenceNumber: seq,
			StreamViewType: string(events.DynamoDBStreamViewTypeNewAndOldImages),
		},
	}, nil
}

// DecodeImage unmarshals a stream image into a value of type T.
func DecodeImage[T any](image map[string]events.DynamoDBAttributeValue) (T, error) {
	var v T
	item, err := FromStreamImage(image)
	if err != nil {
		return v, err
	}
	if err := attributevalue.UnmarshalMap(item, &v); err != nil {
		return v, fmt.Errorf("decode image: %w", err)
	}
	return v, nil
}

// ToStreamImage converts an item into its stream image form. A nil item yields a nil image.
func ToStreamImage(item map[string]types.AttributeValue) (map[string]events.DynamoDBAttributeValue, error) {
	if item == nil {
		return nil, nil
	}
	out := make(map[string]events.DynamoDBAttributeValue, len(item))
	for k, v := range item {
		sv, err := toStreamAttr(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		out[k] = sv
	}
	return out, nil
}

// FromStreamImage converts a stream image back into an item. A nil image yields a nil item.
func FromStreamImage(image map[string]events.DynamoDBAttributeValue) (map[string]types.AttributeValue, error) {
	if image == nil {
		return nil, nil
	}
	out := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		av, err := fromStreamAttr(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		out[k] = av
	}
	return out, nil
}

// RecordKey returns the entity ID of a record.
func RecordKey(record events.DynamoDBEventRecord) string {
	return getStringAttr(record.Change.Keys, store.AttrID)
}

func toStreamAttr(av types.AttributeValue) (events.DynamoDBAttributeValue, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return events.NewStringAttribute(v.Value), nil
	case *types.AttributeValueMemberN:
		return events.NewNumberAttribute(v.Value), nil
	case *types.AttributeValueMemberB:
		return events.NewBinaryAttribute(v.Value), nil
	case *types.AttributeValueMemberBOOL:
		return events.NewBooleanAttribute(v.Value), nil
	case *types.AttributeValueMemberNULL:
		return events.NewNullAttribute(), nil
	case *types.AttributeValueMemberSS:
		return events.NewStringSetAttribute(v.Value), nil
	case *types.AttributeValueMemberNS:
		return events.NewNumberSetAttribute(v.Value), nil
	case *types.AttributeValueMemberBS:
		return events.NewBinarySetAttribute(v.Value), nil
	case *types.AttributeValueMemberL:
		list := make([]events.DynamoDBAttributeValue, len(v.Value))
		for i, e := range v.Value {
			sv, err := toStreamAttr(e)
			if err != nil {
				return events.DynamoDBAttributeValue{}, err
			}
			list[i] = sv
		}
		return events.NewListAttribute(list), nil
	case *types.AttributeValueMemberM:
		m := make(map[string]events.DynamoDBAttributeValue, len(v.Value))
		for k, e := range v.Value {
			sv, err := toStreamAttr(e)
			if err != nil {
				return events.DynamoDBAttributeValue{}, err
			}
			m[k] = sv
		}
		return events.NewMapAttribute(m), nil
	}
	return events.DynamoDBAttributeValue{}, fmt.Errorf("unsupported attribute type %T", av)
}

func fromStreamAttr(v events.DynamoDBAttributeValue) (types.AttributeValue, error) {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}, nil
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}, nil
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}, nil
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}, nil
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}, nil
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}, nil
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}, nil
	case events.DataTypeList:
		list := make([]types.AttributeValue, len(v.List()))
		for i, e := range v.List() {
			av, err := fromStreamAttr(e)
			if err != nil {
				return nil, err
			}
			list[i] = av
		}
		return &types.AttributeValueMemberL{Value: list}, nil
	case events.DataTypeMap:
		m := make(map[string]types.AttributeValue, len(v.Map()))
		for k, e := range v.Map() {
			av, err := fromStreamAttr(e)
			if err != nil {
				return nil, err
			}
			m[k] = av
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	}
	return nil, fmt.Errorf("unsupported stream data type %d", v.DataType())
}

// getStringAttr extracts a string attribute from a stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}
