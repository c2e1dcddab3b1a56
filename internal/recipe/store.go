package recipe

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/wfunc/vhs-coffeeman/internal/errors"
	"github.com/wfunc/vhs-coffeeman/internal/logger"
	"go.uber.org/zap"
)

// Step 配方中的一个出酒步骤
type Step struct {
	Pump       int     `json:"pump"`       // 泵索引
	Ingredient string  `json:"ingredient"` // 原料名称
	Amount     float64 `json:"amount"`     // 用量（盎司）
}

// Recipe 按标签解析出的完整配方
type Recipe struct {
	Tag   string `json:"tag"`   // RFID标签
	Name  string `json:"name"`  // 饮品名称
	Steps []Step `json:"steps"` // 有序出酒步骤
}

// TotalAmount 配方总用量
func (r *Recipe) TotalAmount() float64 {
	var total float64
	for _, s := range r.Steps {
		total += s.Amount
	}
	return total
}

// ingredientAmount recipes.json中的单条原料记录
type ingredientAmount struct {
	Ingredient string  `json:"ingredient"`
	Amount     float64 `json:"amount"`
}

// Options 配方存储配置
type Options struct {
	Dir             string // 配方文件目录
	TapesFile       string // 标签映射文件名
	IngredientsFile string // 原料映射文件名
	RecipesFile     string // 配方文件名
	PumpCount       int    // 可用泵数量
}

// Store 三文件配方存储
// tapes.json:       标签 -> 饮品名称
// ingredients.json: 原料名称 -> 泵索引
// recipes.json:     饮品名称 -> 有序(原料, 用量)列表
// 加载时整体校验引用完整性，校验失败时拒绝整个数据集，不做部分合并。
type Store struct {
	mu   sync.RWMutex
	opts Options
	log  *zap.Logger

	tapes       map[string]string             // 标签 -> 饮品
	ingredients map[string]int                // 原料 -> 泵
	recipes     map[string][]ingredientAmount // 饮品 -> 原料列表

	cache map[string]*Recipe // 按标签缓存的已解析配方
}

// NewStore 创建配方存储并执行首次加载
func NewStore(opts Options) (*Store, error) {
	if opts.TapesFile == "" {
		opts.TapesFile = "tapes.json"
	}
	if opts.IngredientsFile == "" {
		opts.IngredientsFile = "ingredients.json"
	}
	if opts.RecipesFile == "" {
		opts.RecipesFile = "recipes.json"
	}
	if opts.PumpCount <= 0 {
		opts.PumpCount = 10
	}

	s := &Store{
		opts:  opts,
		log:   logger.WithModule("recipe"),
		cache: make(map[string]*Recipe),
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}

	return s, nil
}

// Reload 从磁盘重新加载所有配方文件
// 加载是原子的：任何一个文件无效则整体失败，保留之前的有效数据集。
func (s *Store) Reload() error {
	tapes := make(map[string]string)
	ingredients := make(map[string]int)
	recipes := make(map[string][]ingredientAmount)

	if err := s.loadFile(s.opts.TapesFile, &tapes); err != nil {
		return err
	}
	if err := s.loadFile(s.opts.IngredientsFile, &ingredients); err != nil {
		return err
	}
	if err := s.loadFile(s.opts.RecipesFile, &recipes); err != nil {
		return err
	}

	if err := validate(tapes, ingredients, recipes, s.opts.PumpCount); err != nil {
		return err
	}

	s.mu.Lock()
	s.tapes = tapes
	s.ingredients = ingredients
	s.recipes = recipes
	s.cache = make(map[string]*Recipe)
	s.mu.Unlock()

	s.log.Info("配方数据加载完成",
		zap.Int("tapes", len(tapes)),
		zap.Int("ingredients", len(ingredients)),
		zap.Int("recipes", len(recipes)),
	)

	return nil
}

// loadFile 读取并解析单个JSON文件
func (s *Store) loadFile(name string, out interface{}) error {
	path := filepath.Join(s.opts.Dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, errors.ErrRecipeLoad, "读取 %s 失败", name)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, errors.ErrRecipeLoad, "解析 %s 失败", name)
	}
	return nil
}

// validate 校验三个表之间的引用完整性
func validate(tapes map[string]string, ingredients map[string]int, recipes map[string][]ingredientAmount, pumpCount int) error {
	// 每个原料映射到合法泵索引，且索引不重复
	seen := make(map[int]string)
	for name, pump := range ingredients {
		if pump < 0 || pump >= pumpCount {
			return errors.Newf(errors.ErrRecipeIntegrity,
				"原料 %q 的泵索引 %d 超出范围 [0, %d)", name, pump, pumpCount)
		}
		if prev, ok := seen[pump]; ok {
			return errors.Newf(errors.ErrRecipeIntegrity,
				"原料 %q 与 %q 映射到同一个泵 %d", name, prev, pump)
		}
		seen[pump] = name
	}

	// 每个配方引用的原料必须存在，用量必须为正
	for drink, steps := range recipes {
		if len(steps) == 0 {
			return errors.Newf(errors.ErrRecipeIntegrity, "配方 %q 没有任何原料", drink)
		}
		for _, step := range steps {
			if _, ok := ingredients[step.Ingredient]; !ok {
				return errors.Newf(errors.ErrRecipeIntegrity,
					"配方 %q 引用了不存在的原料 %q", drink, step.Ingredient)
			}
			if step.Amount <= 0 {
				return errors.Newf(errors.ErrRecipeIntegrity,
					"配方 %q 中原料 %q 的用量 %.2f 无效", drink, step.Ingredient, step.Amount)
			}
		}
	}

	// 每个标签引用的饮品必须存在
	for tag, drink := range tapes {
		if _, ok := recipes[drink]; !ok {
			return errors.Newf(errors.ErrRecipeIntegrity,
				"标签 %q 引用了不存在的配方 %q", tag, drink)
		}
	}

	return nil
}

// Resolve 按标签解析配方
// 未注册的标签返回ErrUnknownTag，泵索引越界返回ErrPumpOutOfRange。
func (s *Store) Resolve(tag string) (*Recipe, error) {
	s.mu.RLock()
	if cached, ok := s.cache[tag]; ok {
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// 双重检查，避免并发解析时重复构建
	if cached, ok := s.cache[tag]; ok {
		return cached, nil
	}

	drink, ok := s.tapes[tag]
	if !ok {
		return nil, errors.Newf(errors.ErrUnknownTag, "标签 %q 未注册", tag)
	}

	items, ok := s.recipes[drink]
	if !ok {
		return nil, errors.Newf(errors.ErrRecipeInvalid, "配方 %q 不存在", drink)
	}

	recipe := &Recipe{
		Tag:   tag,
		Name:  drink,
		Steps: make([]Step, 0, len(items)),
	}

	for _, item := range items {
		pump, ok := s.ingredients[item.Ingredient]
		if !ok {
			return nil, errors.Newf(errors.ErrRecipeInvalid,
				"配方 %q 引用了不存在的原料 %q", drink, item.Ingredient)
		}
		if pump < 0 || pump >= s.opts.PumpCount {
			return nil, errors.Newf(errors.ErrPumpOutOfRange,
				"原料 %q 的泵索引 %d 超出范围 [0, %d)", item.Ingredient, pump, s.opts.PumpCount)
		}
		recipe.Steps = append(recipe.Steps, Step{
			Pump:       pump,
			Ingredient: item.Ingredient,
			Amount:     item.Amount,
		})
	}

	s.cache[tag] = recipe

	return recipe, nil
}

// Register 注册标签到饮品的映射，并原子持久化到tapes.json
// 已注册的标签默认拒绝，调用方可通过overwrite显式覆盖。
func (s *Store) Register(tag, drink string, overwrite bool) error {
	if tag == "" || drink == "" {
		return errors.New(errors.ErrInvalidParam, "标签和饮品名称不能为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recipes[drink]; !ok {
		return errors.Newf(errors.ErrNotFound, "配方 %q 不存在", drink)
	}

	if existing, ok := s.tapes[tag]; ok && !overwrite {
		return errors.Newf(errors.ErrDuplicateTag, "标签 %q 已注册到 %q", tag, existing)
	}

	updated := make(map[string]string, len(s.tapes)+1)
	for k, v := range s.tapes {
		updated[k] = v
	}
	updated[tag] = drink

	if err := s.persistTapes(updated); err != nil {
		return err
	}

	s.tapes = updated
	delete(s.cache, tag)

	s.log.Info("标签注册成功",
		zap.String("tag", tag),
		zap.String("drink", drink),
		zap.Bool("overwrite", overwrite),
	)

	return nil
}

// persistTapes 原子写入tapes.json（先写临时文件再重命名）
func (s *Store) persistTapes(tapes map[string]string) error {
	data, err := json.MarshalIndent(tapes, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrInternalError, "序列化标签表失败")
	}

	path := filepath.Join(s.opts.Dir, s.opts.TapesFile)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrap(err, errors.ErrRecipeLoad, "写入临时标签文件失败")
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, errors.ErrRecipeLoad, "替换标签文件失败")
	}

	return nil
}

// Tags 返回所有已注册的标签（排序后）
func (s *Store) Tags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tags := make([]string, 0, len(s.tapes))
	for tag := range s.tapes {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// DrinkFor 返回标签对应的饮品名称
func (s *Store) DrinkFor(tag string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	drink, ok := s.tapes[tag]
	return drink, ok
}

// Drinks 返回所有饮品名称（排序后）
func (s *Store) Drinks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	drinks := make([]string, 0, len(s.recipes))
	for name := range s.recipes {
		drinks = append(drinks, name)
	}
	sort.Strings(drinks)
	return drinks
}

// PumpCount 返回配置的泵数量
func (s *Store) PumpCount() int {
	return s.opts.PumpCount
}
