package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/metdatasystem/orders-relay/internal/relay"
	"github.com/metdatasystem/orders-relay/internal/store"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

func newTestProcessor() (*relay.Processor, *store.Memory) {
	memory := store.NewMemory()
	return relay.New(memory, relay.WithLogger(zerolog.Nop())), memory
}

func sqsEvent(bodies ...string) events.SQSEvent {
	event := events.SQSEvent{}
	for i, body := range bodies {
		event.Records = append(event.Records, events.SQSMessage{
			MessageId: string(rune('a' + i)),
			Body:      body,
		})
	}
	return event
}

func TestLambdaBatchMode(t *testing.T) {
	processor, memory := newTestProcessor()
	l := NewLambda(processor, relay.FailBatch, zerolog.Nop())

	out, err := l.Handle(context.Background(), sqsEvent(`{"Message":"{\"orderId\":\"A1\",\"qty\":2}"}`))
	require.NoError(t, err)
	assert.Equal(t, &relay.Result{StatusCode: 200, Body: "Order processed successfully"}, out)
	assert.Equal(t, 1, memory.Puts())

	out, err = l.Handle(context.Background(), sqsEvent(`{"orderId":"A2"}`, `not-json`, `{"orderId":"A3"}`))
	assert.Nil(t, out)
	var parseErr *relay.ParseError
	assert.ErrorAs(t, err, &parseErr)
	assert.Equal(t, 2, memory.Puts())
}

func TestLambdaRecordMode(t *testing.T) {
	processor, memory := newTestProcessor()
	l := NewLambda(processor, relay.FailRecord, zerolog.Nop())

	out, err := l.Handle(context.Background(), sqsEvent(`{"orderId":"A2"}`, `not-json`, `{"orderId":"A3"}`))
	require.NoError(t, err)
	assert.Equal(t, events.SQSEventResponse{BatchItemFailures: []events.SQSBatchItemFailure{
		{ItemIdentifier: "b"},
	}}, out)
	assert.Equal(t, 2, memory.Puts())

	out, err = l.Handle(context.Background(), sqsEvent(`{"orderId":"A4"}`))
	require.NoError(t, err)
	assert.Equal(t, &relay.Result{StatusCode: 200, Body: relay.SuccessMessage}, out)
}

type fakeSQS struct {
	messages []types.Message
	deleted  []types.DeleteMessageBatchRequestEntry
	err      error
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	messages := f.messages
	f.messages = nil
	return &sqs.ReceiveMessageOutput{Messages: messages}, nil
}

func (f *fakeSQS) DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	f.deleted = append(f.deleted, params.Entries...)
	return &sqs.DeleteMessageBatchOutput{}, nil
}

func sqsMessages(bodies ...string) []types.Message {
	var messages []types.Message
	for i, body := range bodies {
		messages = append(messages, types.Message{
			MessageId:     aws.String(string(rune('a' + i))),
			ReceiptHandle: aws.String("rh-" + string(rune('a'+i))),
			Body:          aws.String(body),
		})
	}
	return messages
}

func receipts(entries []types.DeleteMessageBatchRequestEntry) []string {
	var out []string
	for _, entry := range entries {
		out = append(out, aws.ToString(entry.ReceiptHandle))
	}
	return out
}

func TestSQSPollDeletesBatch(t *testing.T) {
	processor, memory := newTestProcessor()
	client := &fakeSQS{messages: sqsMessages(`{"orderId":"A1"}`, `{"orderId":"A2"}`)}
	s := NewSQS(client, "https://queue", processor, relay.FailBatch, zerolog.Nop())

	n, err := s.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"rh-a", "rh-b"}, receipts(client.deleted))
	assert.Equal(t, 2, memory.Puts())

	// Nothing left on the queue
	n, err = s.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSQSPollBatchFailureKeepsMessages(t *testing.T) {
	processor, _ := newTestProcessor()
	client := &fakeSQS{messages: sqsMessages(`{"orderId":"A1"}`, `oops`, `{"orderId":"A3"}`)}
	s := NewSQS(client, "https://queue", processor, relay.FailBatch, zerolog.Nop())

	_, err := s.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, client.deleted)
}

func TestSQSPollRecordFailureDeletesOthers(t *testing.T) {
	processor, _ := newTestProcessor()
	client := &fakeSQS{messages: sqsMessages(`{"orderId":"A1"}`, `oops`, `{"orderId":"A3"}`)}
	s := NewSQS(client, "https://queue", processor, relay.FailRecord, zerolog.Nop())

	_, err := s.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"rh-a", "rh-c"}, receipts(client.deleted))
}

func TestSQSPollReceiveError(t *testing.T) {
	processor, _ := newTestProcessor()
	client := &fakeSQS{err: errors.New("access denied")}
	s := NewSQS(client, "https://queue", processor, relay.FailBatch, zerolog.Nop())

	_, err := s.Poll(context.Background())
	assert.ErrorContains(t, err, "failed to receive messages")
}

func TestSQSRunStopsOnCancel(t *testing.T) {
	processor, _ := newTestProcessor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSQS(&fakeSQS{err: context.Canceled}, "https://queue", processor, relay.FailBatch, zerolog.Nop())
	assert.NoError(t, s.Run(ctx))
}

func TestBatchFromKafka(t *testing.T) {
	records := []*kgo.Record{
		{Topic: "orders", Partition: 1, Offset: 7, Value: []byte(`{"orderId":"A1"}`)},
		{Topic: "orders", Partition: 0, Offset: 3, Value: []byte(`{"orderId":"A2"}`)},
	}

	batch := batchFromKafka(records)
	assert.Equal(t, relay.Batch{Records: []relay.Record{
		{MessageID: "orders/1/7", Body: `{"orderId":"A1"}`},
		{MessageID: "orders/0/3", Body: `{"orderId":"A2"}`},
	}}, batch)
}

func TestEarliestOffsets(t *testing.T) {
	records := []*kgo.Record{
		{Topic: "orders", Partition: 0, Offset: 5, LeaderEpoch: 2},
		{Topic: "orders", Partition: 0, Offset: 4, LeaderEpoch: 2},
		{Topic: "orders", Partition: 1, Offset: 9, LeaderEpoch: 1},
		{Topic: "returns", Partition: 0, Offset: 1, LeaderEpoch: 0},
	}

	assert.Equal(t, map[string]map[int32]kgo.EpochOffset{
		"orders": {
			0: {Epoch: 2, Offset: 4},
			1: {Epoch: 1, Offset: 9},
		},
		"returns": {
			0: {Epoch: 0, Offset: 1},
		},
	}, earliestOffsets(records))
}

func TestSplitRedelivery(t *testing.T) {
	records := []*kgo.Record{
		{Topic: "orders", Partition: 0, Offset: 4},
		{Topic: "orders", Partition: 1, Offset: 9},
		{Topic: "orders", Partition: 0, Offset: 5},
		{Topic: "orders", Partition: 0, Offset: 6},
		{Topic: "orders", Partition: 1, Offset: 10},
	}

	commit, rewind := splitRedelivery(records, redelivery{})
	assert.Equal(t, records, commit)
	assert.Empty(t, rewind)

	commit, rewind = splitRedelivery(records, redelivery{all: true})
	assert.Empty(t, commit)
	assert.Equal(t, map[string]map[int32]kgo.EpochOffset{
		"orders": {0: {Offset: 4}, 1: {Offset: 9}},
	}, rewind)

	// Offset 5 failed, 6 is held back behind it while partition 1 commits in full
	commit, rewind = splitRedelivery(records, redelivery{indices: map[int]bool{2: true}})
	assert.Equal(t, []*kgo.Record{records[0], records[1], records[4]}, commit)
	assert.Equal(t, map[string]map[int32]kgo.EpochOffset{
		"orders": {0: {Offset: 5}},
	}, rewind)
}

// fakeKafka serves the partitions of one topic from memory, tracking the consume position and
// the committed offsets the way a group consumer would.
type fakeKafka struct {
	topic     string
	log       map[int32][]string
	position  map[int32]int64
	committed map[int32]int64
	rewinds   int
	polls     int
	maxPolls  int
	cancel    context.CancelFunc
}

func newFakeKafka(cancel context.CancelFunc, maxPolls int, partitions ...[]string) *fakeKafka {
	f := &fakeKafka{
		topic:     "orders",
		log:       map[int32][]string{},
		position:  map[int32]int64{},
		committed: map[int32]int64{},
		maxPolls:  maxPolls,
		cancel:    cancel,
	}
	for i, values := range partitions {
		f.log[int32(i)] = values
	}
	return f
}

func (f *fakeKafka) PollFetches(ctx context.Context) kgo.Fetches {
	f.polls++
	if f.polls > f.maxPolls {
		f.cancel()
		return kgo.Fetches{}
	}

	topic := kgo.FetchTopic{Topic: f.topic}
	for p := int32(0); p < int32(len(f.log)); p++ {
		partition := kgo.FetchPartition{Partition: p}
		for offset := f.position[p]; offset < int64(len(f.log[p])); offset++ {
			partition.Records = append(partition.Records, &kgo.Record{
				Topic:     f.topic,
				Partition: p,
				Offset:    offset,
				Value:     []byte(f.log[p][offset]),
			})
		}
		f.position[p] = int64(len(f.log[p]))
		topic.Partitions = append(topic.Partitions, partition)
	}

	return kgo.Fetches{{Topics: []kgo.FetchTopic{topic}}}
}

func (f *fakeKafka) CommitRecords(ctx context.Context, rs ...*kgo.Record) error {
	for _, record := range rs {
		if record.Offset+1 > f.committed[record.Partition] {
			f.committed[record.Partition] = record.Offset + 1
		}
	}
	return nil
}

func (f *fakeKafka) SetOffsets(setOffsets map[string]map[int32]kgo.EpochOffset) {
	f.rewinds++
	for p, offset := range setOffsets[f.topic] {
		f.position[p] = offset.Offset
	}
}

func runKafka(t *testing.T, mode relay.FailureMode, maxPolls int, partitions ...[]string) (*fakeKafka, *store.Memory) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	processor, memory := newTestProcessor()
	client := newFakeKafka(cancel, maxPolls, partitions...)
	k := NewKafka(client, processor, mode, zerolog.Nop())
	k.rewindDelay = time.Millisecond

	require.NoError(t, k.Run(ctx))
	return client, memory
}

func TestKafkaRunCommitsCleanBatch(t *testing.T) {
	client, memory := runKafka(t, relay.FailBatch, 2,
		[]string{`{"orderId":"A1"}`, `{"Message":"{\"orderId\":\"A2\"}"}`},
		[]string{`{"orderId":"B1"}`},
	)

	assert.Equal(t, map[int32]int64{0: 2, 1: 1}, client.committed)
	assert.Zero(t, client.rewinds)
	assert.Len(t, memory.Items(relay.DefaultTable), 3)
	assert.Equal(t, 3, memory.Puts())
}

func TestKafkaRunRedeliversFailedBatch(t *testing.T) {
	client, memory := runKafka(t, relay.FailBatch, 3,
		[]string{`{"orderId":"A1"}`, `not-json`, `{"orderId":"A3"}`},
	)

	// Every poll saw the batch again and nothing was committed
	assert.Empty(t, client.committed)
	assert.Equal(t, 3, client.rewinds)
	assert.Equal(t, int64(0), client.position[0])
	assert.Equal(t, 3, memory.Puts())
	assert.NotContains(t, memory.Items(relay.DefaultTable), "A3")
}

func TestKafkaRunRecordModeRewindsPartition(t *testing.T) {
	client, memory := runKafka(t, relay.FailRecord, 2,
		[]string{`{"orderId":"A1"}`, `not-json`, `{"orderId":"A3"}`},
		[]string{`{"orderId":"B1"}`},
	)

	// Partition 0 stays at the failed record, partition 1 is fully committed
	assert.Equal(t, map[int32]int64{0: 1, 1: 1}, client.committed)
	assert.Equal(t, 2, client.rewinds)
	assert.Equal(t, int64(1), client.position[0])

	items := memory.Items(relay.DefaultTable)
	assert.Len(t, items, 3)
	assert.Contains(t, items, "A3")
	// A1 and B1 once, A3 on both polls
	assert.Equal(t, 4, memory.Puts())
}

type fakeAcknowledger struct {
	acked    []uint64
	nacked   []uint64
	requeued bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	f.nacked = append(f.nacked, tag)
	f.requeued = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return nil
}

func TestRabbitHandle(t *testing.T) {
	processor, memory := newTestProcessor()
	r := NewRabbit(nil, "orders.queue", processor, zerolog.Nop())
	r.requeueDelay = 20 * time.Millisecond
	ack := &fakeAcknowledger{}

	r.handle(context.Background(), amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(`{"orderId":"A1"}`)})

	start := time.Now()
	r.handle(context.Background(), amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte(`{"Message":5}`)})
	assert.GreaterOrEqual(t, time.Since(start), r.requeueDelay)

	assert.Equal(t, []uint64{1}, ack.acked)
	assert.Equal(t, []uint64{2}, ack.nacked)
	assert.True(t, ack.requeued)
	assert.Equal(t, 1, memory.Puts())
}

func TestRabbitHandleCancelledRequeuesAtOnce(t *testing.T) {
	processor, _ := newTestProcessor()
	r := NewRabbit(nil, "orders.queue", processor, zerolog.Nop())
	r.requeueDelay = time.Hour
	ack := &fakeAcknowledger{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		r.handle(ctx, amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: []byte(`{"orderId":"A1"}`)})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handle did not return after cancel")
	}
	assert.Equal(t, []uint64{3}, ack.nacked)
	assert.True(t, ack.requeued)
}

const batchFile = `{"Records":[{"messageId":"m1","body":"{\"orderId\":\"L1\"}"},{"body":"{\"Message\":\"{\\\"orderId\\\":\\\"L2\\\"}\"}"}]}`

func writeFile(t *testing.T, path string, data string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func TestReadBatchCompressed(t *testing.T) {
	dir := t.TempDir()

	gzPath := filepath.Join(dir, "batch.json.gz")
	f, err := os.Create(gzPath)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(batchFile))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	zstPath := filepath.Join(dir, "batch.json.zst")
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	writeFile(t, zstPath, string(enc.EncodeAll([]byte(batchFile), nil)))
	require.NoError(t, enc.Close())

	for _, path := range []string{gzPath, zstPath} {
		batch, err := ReadBatch(path)
		require.NoError(t, err, path)
		require.Len(t, batch.Records, 2)
		assert.Equal(t, "m1", batch.Records[0].MessageID)
		assert.Equal(t, `{"orderId":"L1"}`, batch.Records[0].Body)
	}
}

func TestLocalRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.json"), batchFile)
	writeFile(t, filepath.Join(dir, "b.json"), `{"Records":[{"body":"{\"orderId\":\"L3\"}"},{"body":"broken"},{"body":"{\"orderId\":\"L4\"}"}]}`)
	writeFile(t, filepath.Join(dir, "c.json"), `not a batch`)

	processor, memory := newTestProcessor()
	err := NewLocal(processor, relay.FailBatch, zerolog.Nop()).Run(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorContains(t, err, "b.json")
	assert.ErrorContains(t, err, "c.json")

	items := memory.Items(relay.DefaultTable)
	assert.Contains(t, items, "L1")
	assert.Contains(t, items, "L2")
	assert.Contains(t, items, "L3")
	// The batch stopped at the broken record
	assert.NotContains(t, items, "L4")
}

func TestLocalRunRecordMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "b.json")
	writeFile(t, path, `{"Records":[{"body":"{\"orderId\":\"L3\"}"},{"body":"broken"},{"body":"{\"orderId\":\"L4\"}"}]}`)

	processor, memory := newTestProcessor()
	err := NewLocal(processor, relay.FailRecord, zerolog.Nop()).Run(context.Background(), path)
	require.Error(t, err)

	assert.Len(t, memory.Items(relay.DefaultTable), 2)
}

func TestLocalMissingPath(t *testing.T) {
	processor, _ := newTestProcessor()
	err := NewLocal(processor, relay.FailBatch, zerolog.Nop()).Run(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
