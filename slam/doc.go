// Package slam 提供光束法平差的观测因子：位姿和点的先验，
// 以及相机与地面点之间的重投影因子。
package slam
