// Package adjust 在因子图引擎上求解摄影测量的经典问题：空间后方交会由控制点
// 恢复相机，空间前方交会由已定向的相机恢复地面点，相对定向建立立体模型，
// 绝对定向把模型纳入地面坐标系。
package adjust
