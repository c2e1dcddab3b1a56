package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/wfunc/vhs-coffeeman/internal/config"
	"github.com/wfunc/vhs-coffeeman/internal/hardware"
	"github.com/wfunc/vhs-coffeeman/internal/logger"
)

// pumpctl 泵维护工具
// 用于开机前灌注管路和收摊后清洗管路，绕过出酒状态机直接驱动硬件。

func usage() {
	fmt.Println("泵维护工具")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  pumpctl [选项] pump <编号|all> <forward|backward> <盎司>")
	fmt.Println("  pumpctl [选项] prime <盎司>     灌注所有管路")
	fmt.Println("  pumpctl [选项] clean <盎司>     反转清洗所有管路")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  pumpctl pump 3 forward 2.0")
	fmt.Println("  pumpctl pump all backward 1.0")
	fmt.Println("  pumpctl prime 2.5")
}

func main() {
	configPath := flag.String("config", "", "配置文件路径")
	timeout := flag.Duration("timeout", 5*time.Minute, "操作超时")
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

	// 维护工具只输出到控制台
	cfg.Log.Output = "console"
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	hw, err := hardware.NewManager(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化硬件失败: %v\n", err)
		os.Exit(1)
	}
	defer hw.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, hw, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "操作失败: %v\n", err)
		hw.EmergencyStop()
		os.Exit(1)
	}

	fmt.Println("完成")
}

func run(ctx context.Context, hw *hardware.Manager, args []string) error {
	switch args[0] {
	case "pump":
		if len(args) != 4 {
			return fmt.Errorf("pump需要3个参数: <编号|all> <forward|backward> <盎司>")
		}
		return runPump(ctx, hw, args[1], args[2], args[3])

	case "prime":
		if len(args) != 2 {
			return fmt.Errorf("prime需要1个参数: <盎司>")
		}
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		fmt.Printf("灌注所有管路，每路 %.2f 盎司...\n", amount)
		return hw.PrimeAll(ctx, amount)

	case "clean":
		if len(args) != 2 {
			return fmt.Errorf("clean需要1个参数: <盎司>")
		}
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		fmt.Printf("反转清洗所有管路，每路 %.2f 盎司...\n", amount)
		return hw.CleanAll(ctx, amount)

	default:
		return fmt.Errorf("未知命令: %s", args[0])
	}
}

func runPump(ctx context.Context, hw *hardware.Manager, pumpArg, dirArg, amountArg string) error {
	var direction hardware.PumpDirection
	switch dirArg {
	case "forward":
		direction = hardware.PumpForward
	case "backward":
		direction = hardware.PumpBackward
	default:
		return fmt.Errorf("方向必须是 forward 或 backward: %s", dirArg)
	}

	amount, err := parseAmount(amountArg)
	if err != nil {
		return err
	}

	if pumpArg == "all" {
		for pump := 0; pump < hw.PumpCount(); pump++ {
			fmt.Printf("泵 %d %s %.2f 盎司...\n", pump, dirArg, amount)
			if err := hw.ManualPump(ctx, pump, direction, amount); err != nil {
				return err
			}
		}
		return nil
	}

	pump, err := strconv.Atoi(pumpArg)
	if err != nil {
		return fmt.Errorf("无效的泵编号: %s", pumpArg)
	}

	fmt.Printf("泵 %d %s %.2f 盎司...\n", pump, dirArg, amount)
	return hw.ManualPump(ctx, pump, direction, amount)
}

func parseAmount(s string) (float64, error) {
	amount, err := strconv.ParseFloat(s, 64)
	if err != nil || amount <= 0 {
		return 0, fmt.Errorf("无效的出液量: %s", s)
	}
	return amount, nil
}
