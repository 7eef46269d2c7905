package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thusd-labs/thusd-go/pkg/connection"
	"github.com/thusd-labs/thusd-go/pkg/deployments"
	"github.com/thusd-labs/thusd-go/pkg/domain"
	"github.com/thusd-labs/thusd-go/pkg/logger"
	"github.com/thusd-labs/thusd-go/pkg/populate"
	"github.com/thusd-labs/thusd-go/pkg/protocol"
	"github.com/thusd-labs/thusd-go/pkg/readable"
	"github.com/thusd-labs/thusd-go/pkg/store"
	"github.com/thusd-labs/thusd-go/pkg/txSigner"
	"github.com/thusd-labs/thusd-go/pkg/util"
	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "thusd",
		Usage: "thUSD protocol client",
		Description: `The thusd CLI reads trove, stability pool and fee state from a thUSD 
deployment, follows it block by block, and sends stability pool deposits.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				EnvVars: []string{"DEBUG"},
			},
			&cli.StringFlag{
				Name:     "rpc-url",
				Aliases:  []string{"r"},
				Usage:    "JSON-RPC endpoint of the chain",
				Required: true,
				EnvVars:  []string{"RPC_URL"},
			},
			&cli.Uint64Flag{
				Name:    "chain-id",
				Usage:   "Chain ID the endpoint serves",
				Value:   1,
				EnvVars: []string{"CHAIN_ID"},
			},
			&cli.StringFlag{
				Name:     "deployments-dir",
				Usage:    "Directory of deployment descriptors laid out as <network>/<version>/<collateral>.json",
				Required: true,
				EnvVars:  []string{"THUSD_DEPLOYMENTS_DIR"},
			},
			&cli.StringFlag{
				Name:    "version",
				Usage:   "Deployment version (defaults to the only deployed version)",
				EnvVars: []string{"THUSD_VERSION"},
			},
			&cli.StringFlag{
				Name:    "collateral",
				Usage:   "Deployment collateral",
				Value:   "eth",
				EnvVars: []string{"THUSD_COLLATERAL"},
			},
			&cli.StringFlag{
				Name:    "user-address",
				Usage:   "Default account of account reads when no signer is configured",
				EnvVars: []string{"USER_ADDRESS"},
			},
			// Transaction signing options
			&cli.StringFlag{
				Name:    "tx-private-key",
				Usage:   "Private key for transaction signing (hex format, with or without 0x prefix)",
				EnvVars: []string{"TX_PRIVATE_KEY"},
			},
			&cli.StringFlag{
				Name:    "tx-aws-kms-key-id",
				Usage:   "AWS KMS key ID for transaction signing",
				EnvVars: []string{"TX_AWS_KMS_KEY_ID"},
			},
			&cli.StringFlag{
				Name:    "tx-aws-region",
				Usage:   "AWS region for transaction signing KMS key",
				Value:   "us-east-1",
				EnvVars: []string{"TX_AWS_REGION"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "network",
				Usage:  "Show the deployment the client is connected to",
				Action: networkAction,
			},
			{
				Name:   "trove",
				Usage:  "Show a trove",
				Flags:  []cli.Flag{addressFlag, blockFlag},
				Action: troveAction,
			},
			{
				Name:  "troves",
				Usage: "List troves by collateral ratio",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "first",
						Usage: "Number of troves to list",
						Value: 10,
					},
					&cli.IntFlag{
						Name:  "starting-at",
						Usage: "Number of troves to skip",
					},
					&cli.BoolFlag{
						Name:  "descending",
						Usage: "List from the highest collateral ratio",
					},
					blockFlag,
				},
				Action: trovesAction,
			},
			{
				Name:   "total",
				Usage:  "Show the system-wide collateral and debt",
				Flags:  []cli.Flag{blockFlag},
				Action: totalAction,
			},
			{
				Name:   "price",
				Usage:  "Show the collateral price",
				Flags:  []cli.Flag{blockFlag},
				Action: priceAction,
			},
			{
				Name:   "fees",
				Usage:  "Show the borrowing and redemption rates",
				Flags:  []cli.Flag{blockFlag},
				Action: feesAction,
			},
			{
				Name:   "deposit",
				Usage:  "Show a stability pool deposit",
				Flags:  []cli.Flag{addressFlag, blockFlag},
				Action: depositAction,
				Subcommands: []*cli.Command{
					{
						Name:  "provide",
						Usage: "Deposit thUSD into the stability pool",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "amount",
								Usage:    "Amount of thUSD to deposit",
								Required: true,
							},
						},
						Action: provideAction,
					},
				},
			},
			{
				Name:  "watch",
				Usage: "Follow the chain and log every snapshot",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:    "poll-interval",
						Usage:   "Polling interval when the endpoint has no subscriptions",
						Value:   store.DefaultPollInterval,
						EnvVars: []string{"POLL_INTERVAL"},
					},
					&cli.StringFlag{
						Name:    "metrics-addr",
						Usage:   "Serve Prometheus metrics on this address (e.g. ':9090')",
						EnvVars: []string{"METRICS_ADDR"},
					},
				},
				Action: watchAction,
			},
		},
		Before: validateFlags,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var (
	addressFlag = &cli.StringFlag{
		Name:    "address",
		Aliases: []string{"a"},
		Usage:   "Account to read (defaults to the signer or --user-address)",
	}
	blockFlag = &cli.Uint64Flag{
		Name:    "block-number",
		Aliases: []string{"b"},
		Usage:   "Block to read at (defaults to latest)",
		EnvVars: []string{"BLOCK_NUMBER"},
	}
)

func validateFlags(c *cli.Context) error {
	txPrivateKey := c.String("tx-private-key")
	txKMSKeyID := c.String("tx-aws-kms-key-id")
	if txPrivateKey != "" && txKMSKeyID != "" {
		return fmt.Errorf("cannot specify both --tx-private-key and --tx-aws-kms-key-id")
	}
	if (txPrivateKey != "" || txKMSKeyID != "") && c.String("user-address") != "" {
		return fmt.Errorf("cannot specify --user-address together with a transaction signer")
	}
	if addr := c.String("user-address"); addr != "" && !common.IsHexAddress(addr) {
		return fmt.Errorf("invalid user address: %s", addr)
	}
	return nil
}

func setupLogger(c *cli.Context) (*zap.Logger, error) {
	return logger.NewLogger(&logger.LoggerConfig{
		Debug: c.Bool("debug"),
	})
}

func setupTransactionSigner(c *cli.Context) (txSigner.ITransactionSigner, error) {
	if privateKey := c.String("tx-private-key"); privateKey != "" {
		return txSigner.NewPrivateKeySigner(privateKey)
	}

	if kmsKeyID := c.String("tx-aws-kms-key-id"); kmsKeyID != "" {
		region := c.String("tx-aws-region")
		return txSigner.NewAWSKMSSigner(kmsKeyID, region)
	}

	return nil, nil
}

func setupProtocol(c *cli.Context, l *zap.Logger, useStore string, storeCfg *store.Config) (*protocol.Protocol, error) {
	registry, err := deployments.NewLoader(l).Load(os.DirFS(c.String("deployments-dir")))
	if err != nil {
		return nil, fmt.Errorf("failed to load deployments: %w", err)
	}

	txSig, err := setupTransactionSigner(c)
	if err != nil {
		return nil, fmt.Errorf("failed to setup transaction signer: %w", err)
	}

	cfg := &protocol.Config{
		RPCUrl:      c.String("rpc-url"),
		ChainID:     c.Uint64("chain-id"),
		Deployments: registry,
		Signer:      txSig,
		Version:     c.String("version"),
		Collateral:  c.String("collateral"),
		UseStore:    useStore,
		Store:       storeCfg,
		Logger:      l,
	}
	if addr := c.String("user-address"); addr != "" {
		user := common.HexToAddress(addr)
		cfg.UserAddress = &user
	}

	p, err := protocol.Connect(c.Context, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return p, nil
}

// connect builds a protocol client without a store, for one-shot reads.
func connect(c *cli.Context) (*protocol.Protocol, *zap.Logger, error) {
	l, err := setupLogger(c)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	p, err := setupProtocol(c, l, "", nil)
	if err != nil {
		return nil, nil, err
	}
	return p, l, nil
}

func overrides(c *cli.Context) *readable.CallOverrides {
	if block := c.Uint64("block-number"); block != 0 {
		return readable.AtBlock(block)
	}
	return nil
}

func accountFlag(c *cli.Context) (*common.Address, error) {
	addr := c.String("address")
	if addr == "" {
		return nil, nil
	}
	if !common.IsHexAddress(addr) {
		return nil, fmt.Errorf("invalid address: %s", addr)
	}
	a := common.HexToAddress(addr)
	return &a, nil
}

func networkAction(c *cli.Context) error {
	p, _, err := connect(c)
	if err != nil {
		return err
	}
	conn := p.Connection

	fmt.Printf("Network: %s (chain %d)\n", conn.NetworkName(), conn.ChainID())
	fmt.Printf("Version: %s\n", conn.Version())
	fmt.Printf("Deployed: %s at block %d\n", conn.DeploymentDate().Format(time.RFC3339), conn.StartBlock())
	if conn.IsNativeCollateral() {
		fmt.Printf("Collateral: %s\n", readable.NativeCollateralSymbol)
	} else {
		fmt.Printf("Collateral: %s\n", conn.CollateralToken().Hex())
	}
	addresses := conn.Addresses()
	for _, key := range addresses.Keys() {
		fmt.Printf("  %-20s %s\n", key, addresses[key].Hex())
	}
	return nil
}

func troveAction(c *cli.Context) error {
	p, _, err := connect(c)
	if err != nil {
		return err
	}
	account, err := accountFlag(c)
	if err != nil {
		return err
	}
	ctx := c.Context
	trove, err := p.Readable.GetTrove(ctx, account, overrides(c))
	if err != nil {
		return fmt.Errorf("failed to get trove: %w", err)
	}
	price, err := p.Readable.GetPrice(ctx, overrides(c))
	if err != nil {
		return fmt.Errorf("failed to get price: %w", err)
	}

	fmt.Printf("Owner: %s\n", trove.OwnerAddress.Hex())
	fmt.Printf("Status: %s\n", trove.Status)
	fmt.Printf("Collateral: %s\n", trove.Collateral.Prettify(4))
	fmt.Printf("Debt: %s\n", trove.Debt.Prettify(2))
	if !trove.IsEmpty() {
		fmt.Printf("Collateral ratio: %s\n", trove.CollateralRatio(price).Prettify(4))
	}
	return nil
}

func trovesAction(c *cli.Context) error {
	p, _, err := connect(c)
	if err != nil {
		return err
	}
	params := readable.TroveListingParams{
		First:      c.Int("first"),
		StartingAt: c.Int("starting-at"),
		SortedBy:   readable.AscendingCollateralRatio,
	}
	if c.Bool("descending") {
		params.SortedBy = readable.DescendingCollateralRatio
	}
	ctx := c.Context
	troves, err := p.Readable.GetTroves(ctx, params, overrides(c))
	if err != nil {
		return fmt.Errorf("failed to list troves: %w", err)
	}
	price, err := p.Readable.GetPrice(ctx, overrides(c))
	if err != nil {
		return fmt.Errorf("failed to get price: %w", err)
	}

	rows := util.Map(troves, func(t domain.UserTrove, i uint64) string {
		return fmt.Sprintf("  [%d] %s coll: %s debt: %s ratio: %s",
			uint64(params.StartingAt)+i,
			t.OwnerAddress.Hex(),
			t.Collateral.Prettify(4),
			t.Debt.Prettify(2),
			t.CollateralRatio(price).Prettify(4),
		)
	})
	fmt.Printf("Troves: %d\n", len(troves))
	if len(rows) > 0 {
		fmt.Println(strings.Join(rows, "\n"))
	}
	return nil
}

func totalAction(c *cli.Context) error {
	p, _, err := connect(c)
	if err != nil {
		return err
	}
	ctx := c.Context
	total, err := p.Readable.GetTotal(ctx, overrides(c))
	if err != nil {
		return fmt.Errorf("failed to get total: %w", err)
	}
	redistributed, err := p.Readable.GetTotalRedistributed(ctx, overrides(c))
	if err != nil {
		return fmt.Errorf("failed to get total redistributed: %w", err)
	}
	count, err := p.Readable.GetNumberOfTroves(ctx, overrides(c))
	if err != nil {
		return fmt.Errorf("failed to get number of troves: %w", err)
	}

	fmt.Printf("Troves: %d\n", count)
	fmt.Printf("Total: %s\n", total)
	fmt.Printf("Redistributed per unit stake: %s\n", redistributed)
	return nil
}

func priceAction(c *cli.Context) error {
	p, _, err := connect(c)
	if err != nil {
		return err
	}
	price, err := p.Readable.GetPrice(c.Context, overrides(c))
	if err != nil {
		return fmt.Errorf("failed to get price: %w", err)
	}
	fmt.Printf("Price: %s\n", price.Prettify(2))
	return nil
}

func feesAction(c *cli.Context) error {
	p, _, err := connect(c)
	if err != nil {
		return err
	}
	fees, err := p.Readable.GetFees(c.Context, overrides(c))
	if err != nil {
		return fmt.Errorf("failed to get fees: %w", err)
	}
	fmt.Printf("Recovery mode: %t\n", fees.RecoveryMode())
	fmt.Printf("Base rate: %s\n", fees.BaseRate(fees.TimeOfLatestBlock()).Prettify(6))
	fmt.Printf("Borrowing rate: %s\n", fees.BorrowingRate().Prettify(6))
	fmt.Printf("Redemption rate (minimum): %s\n", fees.RedemptionRate(domain.Zero).Prettify(6))
	return nil
}

func depositAction(c *cli.Context) error {
	p, _, err := connect(c)
	if err != nil {
		return err
	}
	account, err := accountFlag(c)
	if err != nil {
		return err
	}
	deposit, err := p.Readable.GetStabilityDeposit(c.Context, account, overrides(c))
	if err != nil {
		return fmt.Errorf("failed to get stability deposit: %w", err)
	}
	fmt.Printf("Initial: %s\n", deposit.InitialTHUSD.Prettify(2))
	fmt.Printf("Current: %s\n", deposit.CurrentTHUSD.Prettify(2))
	fmt.Printf("Collateral gain: %s\n", deposit.CollateralGain.Prettify(6))
	return nil
}

func provideAction(c *cli.Context) error {
	p, l, err := connect(c)
	if err != nil {
		return err
	}
	if _, err := p.Connection.RequireSigner(); err != nil {
		return fmt.Errorf("--tx-private-key or --tx-aws-kms-key-id is required: %w", err)
	}
	amount, err := domain.ParseDecimal(c.String("amount"))
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}

	ctx := c.Context
	tx, err := p.Populate.DepositTHUSDInStabilityPool(ctx, amount, nil)
	if err != nil {
		return fmt.Errorf("failed to populate deposit: %w", err)
	}
	sent, err := tx.Send(ctx)
	if err != nil {
		return fmt.Errorf("failed to send deposit: %w", err)
	}
	receipt, err := sent.WaitForReceipt(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for deposit: %w", err)
	}
	if receipt.Status != populate.Succeeded {
		return fmt.Errorf("deposit %s reverted", sent.Tx.Hash().Hex())
	}
	l.Sugar().Infow("Deposited into the stability pool",
		zap.String("transactionHash", sent.Tx.Hash().Hex()),
		zap.String("newDeposit", receipt.Details.NewDeposit.String()),
		zap.String("collateralGain", receipt.Details.CollateralGain.String()),
	)
	return nil
}

func watchAction(c *cli.Context) error {
	l, err := setupLogger(c)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}

	storeCfg := &store.Config{
		PollInterval: c.Duration("poll-interval"),
		Logger:       l,
	}
	var registry *prometheus.Registry
	if c.String("metrics-addr") != "" {
		registry = prometheus.NewRegistry()
		storeCfg.Registerer = registry
	}

	p, err := setupProtocol(c, l, connection.UseStoreBlockPolled, storeCfg)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if registry != nil {
		server := &http.Server{
			Addr:              c.String("metrics-addr"),
			Handler:           logger.HttpLoggerMiddleware(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), l),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				l.Sugar().Errorw("Metrics server failed", zap.Error(err))
			}
		}()
		defer server.Close()
	}

	unsubscribe := p.Store.OnUpdate(func(s *readable.Snapshot) {
		l.Sugar().Infow("New snapshot",
			zap.Uint64("blockNumber", s.BlockTag),
			zap.Uint64("blockTimestamp", s.BlockTimestamp),
			zap.String("price", s.Price.String()),
			zap.String("totalCollateral", s.Total.Collateral.String()),
			zap.String("totalDebt", s.Total.Debt.String()),
			zap.Uint64("troves", s.NumberOfTroves),
			zap.String("thusdInStabilityPool", s.THUSDInStabilityPool.String()),
			zap.Bool("recoveryMode", s.Fees.RecoveryMode()),
		)
	})
	defer unsubscribe()

	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("failed to start store: %w", err)
	}
	l.Sugar().Infow("Watching deployment",
		zap.String("network", p.Connection.NetworkName()),
		zap.Uint64("snapshotBlock", p.Store.Snapshot().BlockTag),
	)

	select {
	case <-ctx.Done():
	case <-p.Store.Done():
	}
	l.Sugar().Infow("Stopped watching")
	return nil
}
