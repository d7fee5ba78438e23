package vec

import (
	"fmt"
	"math"
)

// Vec3 представляет трехмерный вектор с целочисленными координатами (позиция блока)
type Vec3 struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Vec3Float представляет трехмерный вектор с плавающими координатами (позиция сущности)
type Vec3Float struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Block возвращает координаты блока, в котором находится точка
func (v Vec3Float) Block() Vec3 {
	return Vec3{
		X: int(math.Floor(v.X)),
		Y: int(math.Floor(v.Y)),
		Z: int(math.Floor(v.Z)),
	}
}

// Add смещает точку на целочисленный вектор
func (v Vec3Float) Add(offset Vec3) Vec3Float {
	return Vec3Float{
		X: v.X + float64(offset.X),
		Y: v.Y + float64(offset.Y),
		Z: v.Z + float64(offset.Z),
	}
}

// LengthSquared возвращает квадрат длины вектора
func (v Vec3) LengthSquared() int {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{
		X: v.X + other.X,
		Y: v.Y + other.Y,
		Z: v.Z + other.Z,
	}
}

// String возвращает "x,y,z"
func (v Vec3) String() string {
	return fmt.Sprintf("%d,%d,%d", v.X, v.Y, v.Z)
}

// ChunkColumn возвращает координаты колонки чанка 16x16 (по X и Z)
func (v Vec3) ChunkColumn() (int, int) {
	return v.X >> 4, v.Z >> 4
}
