package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Serial    SerialConfig    `mapstructure:"serial"`
	Hardware  HardwareConfig  `mapstructure:"hardware"`
	Recipes   RecipesConfig   `mapstructure:"recipes"`
	Dispenser DispenserConfig `mapstructure:"dispenser"`
	Media     MediaConfig     `mapstructure:"media"`
	Log       LogConfig       `mapstructure:"log"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// ServerConfig HTTP服务器配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// WebSocketConfig 状态推送WebSocket配置
type WebSocketConfig struct {
	Path            string        `mapstructure:"path"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SerialConfig 串口配置
type SerialConfig struct {
	GRBL GRBLConfig `mapstructure:"grbl"`
	RFID RFIDConfig `mapstructure:"rfid"`
}

// GRBLConfig GRBL运动控制器串口配置
type GRBLConfig struct {
	Port        string        `mapstructure:"port"`
	BaudRate    int           `mapstructure:"baud_rate"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	MoveTimeout time.Duration `mapstructure:"move_timeout"` // 单步移动完成超时
	FeedRate    int           `mapstructure:"feed_rate"`    // 进给速度 mm/min
	InitDelay   time.Duration `mapstructure:"init_delay"`   // 上电初始化等待
}

// RFIDConfig RFID读卡器串口配置
type RFIDConfig struct {
	Port        string        `mapstructure:"port"`
	BaudRate    int           `mapstructure:"baud_rate"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// HardwareConfig 硬件配置
type HardwareConfig struct {
	MockMode bool      `mapstructure:"mock_mode"` // 模拟模式（不连接真实硬件）
	MMPerOz  float64   `mapstructure:"mm_per_oz"` // 泵校准：每盎司对应的移动距离
	PumpPins []int     `mapstructure:"pump_pins"` // 泵使能引脚（BCM编号）
	VCR      VCRConfig `mapstructure:"vcr"`
	Cup      CupConfig `mapstructure:"cup"`
	LED      LEDConfig `mapstructure:"led"`
}

// VCRConfig 录像机按键控制配置
type VCRConfig struct {
	PlayPin     int           `mapstructure:"play_pin"`
	EjectPin    int           `mapstructure:"eject_pin"`
	PressTime   time.Duration `mapstructure:"press_time"`
	ReleaseTime time.Duration `mapstructure:"release_time"`
}

// CupConfig 杯子接近传感器配置
type CupConfig struct {
	DevicePath string `mapstructure:"device_path"` // IIO接近传感器原始值路径
	Threshold  int    `mapstructure:"threshold"`   // 高于该值判定杯子在位
}

// LEDConfig 状态指示灯配置
type LEDConfig struct {
	Pins []int `mapstructure:"pins"` // 指示灯引脚（按通道顺序）
}

// RecipesConfig 配方存储配置
type RecipesConfig struct {
	Dir             string `mapstructure:"dir"`              // 存放三个JSON映射表的目录
	TapesFile       string `mapstructure:"tapes_file"`       // 标签→饮品
	IngredientsFile string `mapstructure:"ingredients_file"` // 原料→泵编号
	RecipesFile     string `mapstructure:"recipes_file"`     // 饮品→原料清单
}

// DispenserConfig 出酒状态机配置
type DispenserConfig struct {
	TickInterval     time.Duration `mapstructure:"tick_interval"`      // 轮询周期
	CupWaitTimeout   time.Duration `mapstructure:"cup_wait_timeout"`   // 等杯超时（0为不限时）
	PourPollInterval time.Duration `mapstructure:"pour_poll_interval"` // 出酒中杯传感器检查周期
	ErrorCooldown    time.Duration `mapstructure:"error_cooldown"`     // 错误状态自动复位时间（0为仅手动复位）
}

// MediaConfig 视频播放配置
type MediaConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Dir        string   `mapstructure:"dir"`
	Player     string   `mapstructure:"player"`
	PlayerArgs []string `mapstructure:"player_args"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// MonitorConfig 监控配置
type MonitorConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	JWT   JWTConfig   `mapstructure:"jwt"`
	Admin AdminConfig `mapstructure:"admin"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// AdminConfig 维护接口管理员账号
type AdminConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"` // argon2id哈希
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		v = viper.New()

		// 设置配置文件路径
		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("./config")
			v.AddConfigPath(".")
		}

		// 设置环境变量前缀
		v.SetEnvPrefix("VHS_COFFEEMAN")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		// 设置默认值
		setDefaults(v)

		// 读取配置文件
		if err = v.ReadInConfig(); err != nil {
			// 如果配置文件不存在，使用默认配置
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return
			}
			err = nil
		}

		// 解析配置到结构体
		cfg = &Config{}
		if err = v.Unmarshal(cfg); err != nil {
			return
		}
	})

	return err
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "development")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// WebSocket默认配置
	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.write_timeout", "10s")

	// 数据库默认配置
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/coffeeman.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")

	// 串口默认配置
	v.SetDefault("serial.grbl.port", "/dev/ttyUSB0")
	v.SetDefault("serial.grbl.baud_rate", 115200)
	v.SetDefault("serial.grbl.read_timeout", "100ms")
	v.SetDefault("serial.grbl.move_timeout", "30s")
	v.SetDefault("serial.grbl.feed_rate", 500)
	v.SetDefault("serial.grbl.init_delay", "2s")
	v.SetDefault("serial.rfid.port", "/dev/ttyAMA0")
	v.SetDefault("serial.rfid.baud_rate", 9600)
	v.SetDefault("serial.rfid.read_timeout", "50ms")

	// 硬件默认配置
	v.SetDefault("hardware.mock_mode", false)
	v.SetDefault("hardware.mm_per_oz", 100.0)
	v.SetDefault("hardware.pump_pins", []int{4, 17, 27, 22, 5, 6, 13, 19, 26, 21})
	v.SetDefault("hardware.vcr.play_pin", 16)
	v.SetDefault("hardware.vcr.eject_pin", 12)
	v.SetDefault("hardware.vcr.press_time", "250ms")
	v.SetDefault("hardware.vcr.release_time", "250ms")
	v.SetDefault("hardware.cup.device_path", "/sys/bus/iio/devices/iio:device0/in_proximity_raw")
	v.SetDefault("hardware.cup.threshold", 2700)
	v.SetDefault("hardware.led.pins", []int{23, 24, 18})

	// 配方默认配置
	v.SetDefault("recipes.dir", "./recipes")
	v.SetDefault("recipes.tapes_file", "tapes.json")
	v.SetDefault("recipes.ingredients_file", "ingredients.json")
	v.SetDefault("recipes.recipes_file", "recipes.json")

	// 状态机默认配置
	v.SetDefault("dispenser.tick_interval", "100ms")
	v.SetDefault("dispenser.cup_wait_timeout", "60s")
	v.SetDefault("dispenser.pour_poll_interval", "200ms")
	v.SetDefault("dispenser.error_cooldown", "30s")

	// 视频默认配置
	v.SetDefault("media.enabled", true)
	v.SetDefault("media.dir", "/home/pi/vhs_coffeeman_media")
	v.SetDefault("media.player", "omxplayer")
	v.SetDefault("media.player_args", []string{"--no-osd", "--aspect-mode", "fill"})

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "both")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "coffeeman.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)

	// 监控默认配置
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.metrics_path", "/metrics")

	// 安全默认配置
	v.SetDefault("security.jwt.secret", "")
	v.SetDefault("security.jwt.expire_hours", 24)
	v.SetDefault("security.admin.username", "admin")
	v.SetDefault("security.admin.password_hash", "")
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()

		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}

		cfg = newCfg

		if callback != nil {
			callback(cfg)
		}

		fmt.Println("配置已重新加载")
	})
}

// GetString 获取字符串配置
func GetString(key string) string {
	return v.GetString(key)
}

// GetInt 获取整数配置
func GetInt(key string) int {
	return v.GetInt(key)
}

// GetBool 获取布尔配置
func GetBool(key string) bool {
	return v.GetBool(key)
}

// GetDuration 获取时间间隔配置
func GetDuration(key string) time.Duration {
	return v.GetDuration(key)
}

// IsSet 检查配置项是否存在
func IsSet(key string) bool {
	return v.IsSet(key)
}
