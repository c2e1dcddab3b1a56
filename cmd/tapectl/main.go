package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/wfunc/vhs-coffeeman/internal/config"
	"github.com/wfunc/vhs-coffeeman/internal/hardware"
	"github.com/wfunc/vhs-coffeeman/internal/logger"
	"github.com/wfunc/vhs-coffeeman/internal/recipe"
)

// tapectl 磁带注册工具
// 把RFID标签和酒谱绑定：弹出旧磁带，等操作员插入新磁带，
// 读到标签后写入tapes.json。

func usage() {
	fmt.Println("磁带注册工具")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  tapectl [选项] register <酒名>    注册新磁带")
	fmt.Println("  tapectl [选项] list               列出已注册磁带")
	fmt.Println("  tapectl [选项] drinks             列出所有酒谱")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  tapectl register midnight_caramel")
	fmt.Println("  tapectl -overwrite register midnight_caramel")
}

func main() {
	configPath := flag.String("config", "", "配置文件路径")
	overwrite := flag.Bool("overwrite", false, "允许覆盖已注册的标签")
	waitTimeout := flag.Duration("wait", 60*time.Second, "等待磁带插入的超时")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	if err := config.Init(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()

	cfg.Log.Output = "console"
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	store, err := recipe.NewStore(recipe.Options{
		Dir:             cfg.Recipes.Dir,
		TapesFile:       cfg.Recipes.TapesFile,
		IngredientsFile: cfg.Recipes.IngredientsFile,
		RecipesFile:     cfg.Recipes.RecipesFile,
		PumpCount:       len(cfg.Hardware.PumpPins),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配方失败: %v\n", err)
		os.Exit(1)
	}

	switch flag.Arg(0) {
	case "list":
		listTapes(store)

	case "drinks":
		for _, drink := range store.Drinks() {
			fmt.Println(drink)
		}

	case "register":
		if flag.NArg() != 2 {
			fmt.Fprintln(os.Stderr, "register需要1个参数: <酒名>")
			os.Exit(2)
		}
		if err := register(cfg, store, flag.Arg(1), *overwrite, *waitTimeout); err != nil {
			fmt.Fprintf(os.Stderr, "注册失败: %v\n", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "未知命令: %s\n", flag.Arg(0))
		os.Exit(2)
	}
}

func listTapes(store *recipe.Store) {
	tags := store.Tags()
	if len(tags) == 0 {
		fmt.Println("没有已注册的磁带")
		return
	}
	for _, tag := range tags {
		drink, _ := store.DrinkFor(tag)
		fmt.Printf("%s\t%s\n", tag, drink)
	}
}

func register(cfg *config.Config, store *recipe.Store, drink string, overwrite bool, waitTimeout time.Duration) error {
	// 酒名必须有对应酒谱，提前校验避免白等磁带
	found := false
	for _, d := range store.Drinks() {
		if d == drink {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("酒谱不存在: %s", drink)
	}

	hw, err := hardware.NewManager(cfg)
	if err != nil {
		return fmt.Errorf("初始化硬件失败: %w", err)
	}
	defer hw.Close()

	// 弹出当前磁带，腾出仓位
	if err := hw.TriggerEject(); err != nil {
		return fmt.Errorf("弹出磁带失败: %w", err)
	}

	fmt.Printf("请插入要绑定到 %q 的磁带...\n", drink)

	tag, err := waitForTag(hw, waitTimeout)
	if err != nil {
		return err
	}

	fmt.Printf("检测到标签: %s\n", tag)

	if err := store.Register(tag, drink, overwrite); err != nil {
		return err
	}

	fmt.Printf("已注册: %s -> %s\n", tag, drink)
	return nil
}

func waitForTag(hw *hardware.Manager, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		tag, err := hw.ReadTag()
		if err != nil {
			return "", err
		}
		if tag != "" {
			return tag, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return "", fmt.Errorf("等待磁带超时 (%s)", timeout)
}
