package journal

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/atmx/trade-engine/internal/ledger"
)

// document is the stored shape of a trade result. Decimal values are kept
// as strings so no precision is lost; metadata is stored as JSON.
type document struct {
	ID                string          `bson:"_id"`
	Pair              string          `bson:"pair"`
	Amount            string          `bson:"amount"`
	AveragePricePaid  string          `bson:"average_price_paid"`
	SellPrice         string          `bson:"sell_price"`
	ActualCost        string          `bson:"actual_cost"`
	AdditionalCosts   string          `bson:"additional_costs"`
	FeesPair          string          `bson:"fees_pair"`
	FeesMarket        string          `bson:"fees_market"`
	SellFees          string          `bson:"sell_fees"`
	BalanceDifference string          `bson:"balance_difference"`
	Profit            string          `bson:"profit"`
	Margin            float64         `bson:"margin"`
	DCALevel          int             `bson:"dca_level"`
	OrderDates        []time.Time     `bson:"order_dates"`
	SellDate          time.Time       `bson:"sell_date"`
	Metadata          string          `bson:"metadata"`
}

// Mongo keeps trade results in a MongoDB collection.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongo connects to uri and uses database.trades.
func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect journal: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	coll := client.Database(database).Collection("trades")
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "sell_date", Value: -1}},
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("index journal: %w", err)
	}
	return &Mongo{client: client, coll: coll}, nil
}

func (j *Mongo) Record(ctx context.Context, r ledger.TradeResult) error {
	doc, err := toDocument(r)
	if err != nil {
		return err
	}
	if _, err := j.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("record trade %s: %w", r.ID, err)
	}
	return nil
}

func (j *Mongo) Recent(ctx context.Context, limit int) ([]ledger.TradeResult, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "sell_date", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := j.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []ledger.TradeResult
	for cur.Next(ctx) {
		var doc document
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		r, err := fromDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, cur.Err()
}

func (j *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return j.client.Disconnect(ctx)
}
