package chain

import (
	"log"
	"math"
	"math/big"
	"sync"
	"time"

	ocr2keepers "github.com/smartcontractkit/chainlink-common/pkg/types/automation"
	"golang.org/x/crypto/sha3"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/smartcontractkit/chainlink-automation-registry/tools/simulator/config"
)

// lookbackDepth is the number of historic block hashes retained for reorg
// protection lookups.
const lookbackDepth = 256

// Block is a single simulated chain block. Loaders attach logs before the
// block hash is sealed.
type Block struct {
	Number *big.Int
	Hash   [32]byte
	Logs   []Log
}

// Log is a simulated chain log emitted within a block.
type Log struct {
	TxHash       [32]byte
	BlockNumber  *big.Int
	BlockHash    [32]byte
	Idx          uint32
	TriggerValue string
}

// SimulatedLog is a log scheduled by the simulation plan. It becomes a Log
// when its trigger block is produced.
type SimulatedLog struct {
	TriggerAt    *big.Int
	TriggerValue string
}

// BlockLoaderFunc attaches data to a block before it is sealed and broadcast.
type BlockLoaderFunc func(*Block)

// Broadcaster produces blocks on a jittered cadence, fans them out to
// subscribers, and retains enough hash history to serve registry reorg
// protection lookups.
type Broadcaster struct {
	// provided dependencies
	loaders []BlockLoaderFunc
	logger  *log.Logger

	// configuration
	limit   *big.Int
	cadence time.Duration
	jitter  distuv.Binomial

	// internal state
	mu            sync.RWMutex
	nextBlock     *big.Int
	parentHash    [32]byte
	history       map[uint64][32]byte
	subscriptions map[int]chan Block
	subCount      int

	// service state
	start sync.Once
	halt  sync.Once
	done  chan struct{}
	stop  chan struct{}
}

func NewBroadcaster(conf config.Blocks, logger *log.Logger, loaders ...BlockLoaderFunc) *Broadcaster {
	limit := new(big.Int).Add(conf.Genesis, big.NewInt(int64(conf.Duration)))

	// add a block padding to allow all transmits to come through
	limit = new(big.Int).Add(limit, big.NewInt(int64(conf.EndPadding)))

	return &Broadcaster{
		loaders: loaders,
		logger:  log.New(logger.Writer(), "[block-broadcaster] ", log.Ldate|log.Ltime|log.Lshortfile),
		limit:   limit,
		cadence: conf.Cadence.Value(),
		jitter: distuv.Binomial{
			N:   float64(2 * conf.Jitter.Value()),
			P:   0.5,
			Src: newCryptoRandSource(),
		},
		nextBlock:     new(big.Int).Set(conf.Genesis),
		history:       make(map[uint64][32]byte),
		subscriptions: make(map[int]chan Block),
		done:          make(chan struct{}),
		stop:          make(chan struct{}),
	}
}

func (b *Broadcaster) Subscribe() (int, chan Block) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subCount++
	b.subscriptions[b.subCount] = make(chan Block, 1)

	return b.subCount, b.subscriptions[b.subCount]
}

func (b *Broadcaster) Unsubscribe(subscriptionID int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscriptions[subscriptionID]; ok {
		close(sub)
	}

	delete(b.subscriptions, subscriptionID)
}

// LatestBlock returns the most recently sealed block key.
func (b *Broadcaster) LatestBlock() ocr2keepers.BlockKey {
	b.mu.RLock()
	defer b.mu.RUnlock()

	number := ocr2keepers.BlockNumber(b.nextBlock.Uint64())

	return ocr2keepers.BlockKey{
		Number: number,
		Hash:   b.history[uint64(number)],
	}
}

// BlockHash returns the sealed hash at the given height. Heights outside the
// retained lookback window report not found.
func (b *Broadcaster) BlockHash(number ocr2keepers.BlockNumber) ([32]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	hash, ok := b.history[uint64(number)]

	return hash, ok
}

func (b *Broadcaster) Start() chan struct{} {
	b.start.Do(func() {
		go b.run()
	})

	return b.done
}

func (b *Broadcaster) Stop() {
	b.halt.Do(func() {
		close(b.stop)
	})
}

func (b *Broadcaster) run() {
	// seal and broadcast the genesis block immediately
	b.broadcast()

	timer := time.NewTimer(b.cadenceWithJitter())
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			next := new(big.Int).Add(b.nextBlock, big.NewInt(1))

			if next.Cmp(b.limit) > 0 {
				close(b.done)
				return
			}

			b.mu.Lock()
			b.nextBlock = next
			b.mu.Unlock()

			b.logger.Printf("next block: %s", b.nextBlock)
			b.broadcast()

			timer.Reset(b.cadenceWithJitter())
		case <-b.stop:
			return
		}
	}
}

func (b *Broadcaster) cadenceWithJitter() time.Duration {
	if b.jitter.N > 0 {
		// plus or minus half the configured jitter, binomially distributed
		// around the cadence
		applied := math.Round(b.jitter.Rand() - b.jitter.N/2)

		return b.cadence + time.Duration(int64(applied))
	}

	return b.cadence
}

func (b *Broadcaster) broadcast() {
	b.mu.Lock()

	block := Block{
		Number: new(big.Int).Set(b.nextBlock),
	}

	for _, loader := range b.loaders {
		loader(&block)
	}

	block.Hash = sealBlockHash(b.parentHash, &block)

	for idx := range block.Logs {
		block.Logs[idx].BlockNumber = block.Number
		block.Logs[idx].BlockHash = block.Hash
	}

	b.parentHash = block.Hash
	b.history[block.Number.Uint64()] = block.Hash

	// trim hashes that fall out of the lookback window
	if block.Number.Uint64() >= lookbackDepth {
		delete(b.history, block.Number.Uint64()-lookbackDepth)
	}

	subs := make([]chan Block, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}

	b.mu.Unlock()

	for _, sub := range subs {
		b.send(sub, block)
	}
}

// send delivers one block to one subscriber. A subscriber that unsubscribes
// mid-broadcast closes its channel; the recover absorbs that race.
func (b *Broadcaster) send(sub chan Block, block Block) {
	defer func() {
		if err := recover(); err != nil {
			b.logger.Println(err)
		}
	}()

	select {
	case sub <- block:
	case <-b.stop:
	}
}

// sealBlockHash derives a block hash from the parent hash, the block number,
// and the log payloads carried in the block.
func sealBlockHash(parent [32]byte, block *Block) [32]byte {
	hasher := sha3.NewLegacyKeccak256()

	hasher.Write(parent[:])
	hasher.Write(block.Number.Bytes())

	for _, lg := range block.Logs {
		hasher.Write(lg.TxHash[:])
		hasher.Write([]byte(lg.TriggerValue))
	}

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))

	return hash
}
